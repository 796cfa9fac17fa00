// Package scheduler exposes the Hub to the rest of the system: a thin
// facade that records metrics around every operation and fans drained
// jobs out to an optional downstream publisher and live notifier.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/common/metrics"
	"go.chronowheel.dev/internal/core/hub"
	"go.chronowheel.dev/internal/core/job"
	"go.chronowheel.dev/internal/core/spoke"
)

// DrainedJob is a job handed back by Drain: identity, trigger time and
// body, with no remaining tie to the Spoke that held it.
type DrainedJob struct {
	ID          uuid.UUID
	TriggerAtMs uint64
	Body        []byte
}

// Dispatcher hands a drained job to a durable downstream sink. Publish
// failures are logged and counted; they never re-queue the job.
type Dispatcher interface {
	Publish(ctx context.Context, j DrainedJob) error
}

// Notifier gives operators a best-effort, non-durable fan-out of drained
// jobs, independent of Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, j DrainedJob) error
}

// Scheduler wraps a Hub with metrics and optional drain side effects.
type Scheduler struct {
	hub        *hub.Hub
	dispatcher Dispatcher
	notifier   Notifier
}

// Option configures optional Scheduler collaborators.
type Option func(*Scheduler)

// WithDispatcher attaches a downstream publisher invoked for every job
// Drain returns.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) { s.dispatcher = d }
}

// WithNotifier attaches a live-notification fan-out invoked for every job
// Drain returns.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// New constructs a Scheduler over a fresh Hub with spokeDurationMs-wide
// regular spokes.
func New(spokeDurationMs uint64, opts ...Option) (*Scheduler, error) {
	h, err := hub.New(spokeDurationMs)
	if err != nil {
		return nil, err
	}
	return newWithHub(h, opts...), nil
}

func newWithHub(h *hub.Hub, opts ...Option) *Scheduler {
	s := &Scheduler{hub: h}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue admits a job with a freshly-generated identity, returning it.
func (s *Scheduler) Enqueue(triggerAtMs uint64, body []byte) uuid.UUID {
	j := job.New(triggerAtMs, body)
	s.EnqueueWithID(j.ID, triggerAtMs, body)
	return j.ID
}

// EnqueueWithID admits a job under a caller-supplied identity.
func (s *Scheduler) EnqueueWithID(id uuid.UUID, triggerAtMs uint64, body []byte) {
	j := job.Job{ID: id, TriggerAtMs: triggerAtMs, Body: body}
	s.hub.Enqueue(j)

	routing := "regular"
	if bounds, ok := s.hub.FindOwner(id); ok && bounds == spoke.PastInterval {
		routing = "past"
	}
	metrics.HubJobsEnqueued.WithLabelValues(routing).Inc()
}

// Drain returns every job ready right now, side-effecting each through
// the configured Dispatcher and Notifier (if any) before returning.
func (s *Scheduler) Drain(ctx context.Context) []DrainedJob {
	start := time.Now()
	jobs := s.hub.Drain()
	metrics.HubDrainDuration.Observe(time.Since(start).Seconds())
	metrics.HubJobsDrained.Add(float64(len(jobs)))
	metrics.HubActiveSpokes.Set(float64(s.hub.SpokeCount()))

	drained := make([]DrainedJob, len(jobs))
	for i, j := range jobs {
		drained[i] = DrainedJob{ID: j.ID, TriggerAtMs: j.TriggerAtMs, Body: j.Body}
	}

	for _, dj := range drained {
		s.dispatch(ctx, dj)
		s.notify(ctx, dj)
	}

	return drained
}

func (s *Scheduler) dispatch(ctx context.Context, dj DrainedJob) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, dj); err != nil {
		slog.Error("failed to publish drained job downstream", "jobId", dj.ID, "error", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, dj DrainedJob) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, dj); err != nil {
		slog.Warn("failed to publish drain notification", "jobId", dj.ID, "error", err)
	}
}

// Cancel removes a pending job by identity.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	ok := s.hub.Cancel(id)
	if ok {
		metrics.HubJobsCancelled.Inc()
	}
	return ok
}

// FindOwner returns the bounds of the Spoke currently holding id.
func (s *Scheduler) FindOwner(id uuid.UUID) (spoke.BoundingInterval, bool) {
	return s.hub.FindOwner(id)
}

// Prune removes expired, empty Spokes, recording how many were removed.
func (s *Scheduler) Prune() uint32 {
	n := s.hub.Prune()
	metrics.HubSpokesPruned.Add(float64(n))
	metrics.HubActiveSpokes.Set(float64(s.hub.SpokeCount()))
	return n
}

// SpokeCount returns the number of live regular Spokes.
func (s *Scheduler) SpokeCount() int {
	return s.hub.SpokeCount()
}
