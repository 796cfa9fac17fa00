package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/scheduler"
)

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, subject)
	return nil
}

func (f *fakePublisher) PublishWithGroup(ctx context.Context, subject string, data []byte, group string) error {
	return f.Publish(ctx, subject, data)
}

func (f *fakePublisher) PublishWithDeduplication(ctx context.Context, subject string, data []byte, id string) error {
	return f.Publish(ctx, subject, data)
}

func (f *fakePublisher) Close() error { return nil }

func TestDispatcher_NilPublisherIsNoop(t *testing.T) {
	d := New(nil, "jobs.fired", DefaultConfig("embedded"))
	err := d.Publish(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 1, Body: []byte("x")})
	if err != nil {
		t.Fatalf("expected nil publisher to be a no-op, got %v", err)
	}
}

func TestDispatcher_PublishesEncodedMessage(t *testing.T) {
	pub := &fakePublisher{}
	d := New(pub, "jobs.fired", DefaultConfig("nats"))

	err := d.Publish(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 42, Body: []byte("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != "jobs.fired" {
		t.Fatalf("expected one publish to jobs.fired, got %+v", pub.published)
	}
}

func TestDispatcher_PublishErrorIsWrapped(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	cfg := DefaultConfig("nats")
	cfg.MinRequests = 1000 // keep breaker closed for this test
	d := New(pub, "jobs.fired", cfg)

	err := d.Publish(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 1})
	if err == nil {
		t.Fatal("expected publish error to propagate")
	}
	if !errors.Is(err, pub.err) {
		t.Fatalf("expected error to wrap %v, got %v", pub.err, err)
	}
}

func TestDispatcher_CircuitBreakerTripsAfterFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("downstream down")}
	cfg := &Config{
		QueueType:   "nats",
		Requests:    1,
		Interval:    time.Minute,
		Ratio:       0.5,
		Timeout:     time.Minute,
		MinRequests: 2,
	}
	d := New(pub, "jobs.fired", cfg)

	for i := 0; i < 5; i++ {
		_ = d.Publish(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 1})
	}

	// After repeated failures the breaker should be open and fail fast
	// without attempting another downstream call.
	pub.err = nil
	err := d.Publish(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 1})
	if err == nil {
		t.Fatal("expected circuit breaker to still be open and reject the publish")
	}
}
