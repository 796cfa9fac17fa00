// Package dispatch wraps a downstream queue.Publisher in a circuit
// breaker, adapted from the teacher's HTTP mediator: the same
// trip/half-open/reset shape, generalized from "webhook call" to
// "publish call" so a stalled downstream queue degrades to fast-failing
// publishes instead of stalling the drain poll loop.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"go.chronowheel.dev/internal/common/metrics"
	"go.chronowheel.dev/internal/queue"
	"go.chronowheel.dev/internal/scheduler"
)

// Config configures the circuit breaker guarding downstream publishes.
type Config struct {
	// QueueType labels metrics ("nats", "sqs").
	QueueType string

	Requests    uint32
	Interval    time.Duration
	Ratio       float64
	Timeout     time.Duration
	MinRequests uint32
}

// DefaultConfig returns sensible defaults, mirroring the teacher's HTTP
// mediator circuit breaker defaults.
func DefaultConfig(queueType string) *Config {
	return &Config{
		QueueType:   queueType,
		Requests:    10,
		Interval:    60 * time.Second,
		Ratio:       0.5,
		Timeout:     5 * time.Second,
		MinRequests: 10,
	}
}

// Dispatcher publishes drained jobs downstream through a circuit breaker.
// It implements scheduler.Dispatcher.
type Dispatcher struct {
	publisher queue.Publisher
	breaker   *gobreaker.CircuitBreaker
	subject   string
	queueType string
}

// New wraps publisher in a circuit breaker, publishing fired jobs to
// subject. publisher may be nil, in which case Publish is a no-op (no
// downstream sink configured).
func New(publisher queue.Publisher, subject string, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig("unknown")
	}

	d := &Dispatcher{
		publisher: publisher,
		subject:   subject,
		queueType: cfg.QueueType,
	}

	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatch-" + cfg.QueueType,
		MaxRequests: cfg.Requests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.Ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("dispatch circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())

			var stateValue float64
			switch to {
			case gobreaker.StateClosed:
				stateValue = metrics.CircuitBreakerClosed
			case gobreaker.StateOpen:
				stateValue = metrics.CircuitBreakerOpen
				metrics.DispatchCircuitBreakerTrips.Inc()
			case gobreaker.StateHalfOpen:
				stateValue = metrics.CircuitBreakerHalfOpen
			}
			metrics.DispatchCircuitBreakerState.Set(stateValue)
		},
	})

	return d
}

// Publish encodes j as a FiredJobMessage and publishes it downstream
// through the circuit breaker. A publish failure is logged and counted;
// it never re-queues j into the Hub.
func (d *Dispatcher) Publish(ctx context.Context, j scheduler.DrainedJob) error {
	if d.publisher == nil {
		return nil
	}

	start := time.Now()
	_, err := d.breaker.Execute(func() (interface{}, error) {
		payload, err := json.Marshal(firedJobMessage{
			JobID:       j.ID.String(),
			TriggerAtMs: j.TriggerAtMs,
			Body:        j.Body,
		})
		if err != nil {
			return nil, fmt.Errorf("encode fired job: %w", err)
		}
		return nil, d.publisher.Publish(ctx, d.subject, payload)
	})
	metrics.DispatchDuration.WithLabelValues(d.queueType).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.QueuePublishErrors.WithLabelValues(d.queueType).Inc()
		return fmt.Errorf("publish drained job %s downstream: %w", j.ID, err)
	}

	metrics.DispatchPublished.WithLabelValues(d.queueType).Inc()
	metrics.QueueMessagesPublished.WithLabelValues(d.queueType).Inc()
	return nil
}

// firedJobMessage mirrors the wire shape published by internal/queue/nats
// and internal/queue/sqs, kept local so that this package does not depend
// on either of those queue packages.
type firedJobMessage struct {
	JobID       string `json:"jobId"`
	TriggerAtMs uint64 `json:"triggerAtMs"`
	Body        []byte `json:"body"`
}
