package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hub/scheduler metrics

	// HubJobsEnqueued tracks total jobs accepted by the hub
	HubJobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "jobs_enqueued_total",
			Help:      "Total jobs accepted into the hub",
		},
		[]string{"routing"}, // routing: past, regular
	)

	// HubJobsDrained tracks total jobs handed back ready for dispatch
	HubJobsDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "jobs_drained_total",
			Help:      "Total jobs drained ready for dispatch",
		},
	)

	// HubJobsCancelled tracks total successful cancellations
	HubJobsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "jobs_cancelled_total",
			Help:      "Total jobs successfully cancelled before firing",
		},
	)

	// HubActiveSpokes tracks the number of live regular spokes
	HubActiveSpokes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "active_spokes",
			Help:      "Number of live regular spokes held by the hub",
		},
	)

	// HubSpokesPruned tracks total spokes removed by pruning
	HubSpokesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "spokes_pruned_total",
			Help:      "Total expired, empty spokes removed by pruning",
		},
	)

	// HubDrainDuration tracks how long a Drain call takes
	HubDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chronowheel",
			Subsystem: "hub",
			Name:      "drain_duration_seconds",
			Help:      "Time to walk the hub and collect ready jobs",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// Dispatch metrics

	// DispatchPublished tracks fired jobs successfully handed to the
	// downstream queue
	DispatchPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "dispatch",
			Name:      "published_total",
			Help:      "Total fired jobs published downstream",
		},
		[]string{"queue_type"}, // nats, sqs
	)

	// DispatchDuration tracks downstream publish latency
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronowheel",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time to publish a fired job downstream",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"queue_type"},
	)

	// DispatchCircuitBreakerState tracks circuit breaker state
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	DispatchCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronowheel",
			Subsystem: "dispatch",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// DispatchCircuitBreakerTrips tracks circuit breaker trip events
	DispatchCircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "dispatch",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
	)

	// Queue metrics

	// QueueMessagesPublished tracks messages published to queue
	QueueMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "queue",
			Name:      "messages_published_total",
			Help:      "Total messages published to queue",
		},
		[]string{"queue_type"}, // nats, sqs
	)

	// QueueMessagesConsumed tracks messages consumed from queue
	QueueMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "queue",
			Name:      "messages_consumed_total",
			Help:      "Total messages consumed from queue",
		},
		[]string{"queue_type"}, // nats, sqs
	)

	// QueuePublishErrors tracks queue publish errors
	QueuePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "queue",
			Name:      "publish_errors_total",
			Help:      "Total queue publish errors",
		},
		[]string{"queue_type"},
	)

	// Admission protocol metrics (beanstalkd-flavoured surface)

	// ProtocolCommandsTotal tracks commands received over the admission
	// protocol
	ProtocolCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "protocol",
			Name:      "commands_total",
			Help:      "Total commands received over the admission protocol",
		},
		[]string{"command", "result"}, // command: put, reserve, delete, stats-job; result: ok, error
	)

	// ProtocolConnections tracks active admission protocol connections
	ProtocolConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronowheel",
			Subsystem: "protocol",
			Name:      "active_connections",
			Help:      "Number of active admission protocol connections",
		},
	)

	// Notify metrics

	// NotifyPublished tracks drain notifications published
	NotifyPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Total drain notifications published",
		},
		[]string{"result"}, // ok, error
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronowheel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronowheel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveConnections tracks active HTTP connections
	HTTPActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronowheel",
			Subsystem: "http",
			Name:      "active_connections",
			Help:      "Number of active HTTP connections",
		},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
