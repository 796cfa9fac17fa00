package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/core/clock"
	"go.chronowheel.dev/internal/core/hub"
)

const spokeDurationMs = 10

func newTestScheduler(t *testing.T, startMs uint64, opts ...Option) (*Scheduler, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(startMs)
	h, err := hub.NewWithClock(spokeDurationMs, fc)
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}
	return newWithHub(h, opts...), fc
}

func TestNew_RejectsZeroDuration(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero spoke duration")
	}
}

func TestEnqueueAndDrain(t *testing.T) {
	s, fc := newTestScheduler(t, 1_000_000)

	s.Enqueue(fc.NowMs()+3, []byte("a"))
	s.Enqueue(fc.NowMs()+4, []byte("b"))

	if drained := s.Drain(context.Background()); len(drained) != 0 {
		t.Fatalf("expected nothing ready yet, got %d", len(drained))
	}

	fc.Advance(spokeDurationMs + 2)

	drained := s.Drain(context.Background())
	if len(drained) != 2 {
		t.Fatalf("expected two drained jobs, got %d", len(drained))
	}
	if string(drained[0].Body) != "a" || string(drained[1].Body) != "b" {
		t.Fatalf("unexpected drain order: %+v", drained)
	}
}

func TestEnqueueWithID_RoundTrips(t *testing.T) {
	s, fc := newTestScheduler(t, 1_000_000)
	id := uuid.New()
	s.EnqueueWithID(id, fc.NowMs()+500, []byte("x"))

	bounds, ok := s.FindOwner(id)
	if !ok {
		t.Fatal("expected FindOwner to locate the job")
	}
	if bounds.StartMs > fc.NowMs()+500 || bounds.EndMs <= fc.NowMs()+500 {
		t.Fatalf("bounds %+v do not contain trigger time", bounds)
	}
}

func TestCancel_IsIdempotentFalse(t *testing.T) {
	s, fc := newTestScheduler(t, 1_000_000)
	id := s.Enqueue(fc.NowMs()+500, []byte("x"))

	if !s.Cancel(id) {
		t.Fatal("expected first cancel to succeed")
	}
	if s.Cancel(id) {
		t.Fatal("expected second cancel to report false")
	}
}

func TestFindOwner_Unknown(t *testing.T) {
	s, _ := newTestScheduler(t, 1_000_000)
	if _, ok := s.FindOwner(uuid.New()); ok {
		t.Fatal("expected unknown id to report not found")
	}
}

type fakeDispatcher struct {
	published []DrainedJob
	err       error
}

func (f *fakeDispatcher) Publish(ctx context.Context, j DrainedJob) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, j)
	return nil
}

type fakeNotifier struct {
	notified []DrainedJob
}

func (f *fakeNotifier) Notify(ctx context.Context, j DrainedJob) error {
	f.notified = append(f.notified, j)
	return nil
}

func TestDrain_InvokesDispatcherAndNotifier(t *testing.T) {
	disp := &fakeDispatcher{}
	notif := &fakeNotifier{}
	s, fc := newTestScheduler(t, 1_000_000, WithDispatcher(disp), WithNotifier(notif))

	s.Enqueue(fc.NowMs()-1, []byte("old"))
	drained := s.Drain(context.Background())

	if len(drained) != 1 {
		t.Fatalf("expected one drained job, got %d", len(drained))
	}
	if len(disp.published) != 1 {
		t.Fatalf("expected dispatcher to see one job, got %d", len(disp.published))
	}
	if len(notif.notified) != 1 {
		t.Fatalf("expected notifier to see one job, got %d", len(notif.notified))
	}
}

func TestDrain_DispatcherErrorDoesNotBlockDrain(t *testing.T) {
	disp := &fakeDispatcher{err: errors.New("downstream unavailable")}
	s, fc := newTestScheduler(t, 1_000_000, WithDispatcher(disp))

	s.Enqueue(fc.NowMs()-1, []byte("old"))
	drained := s.Drain(context.Background())

	if len(drained) != 1 {
		t.Fatalf("expected drain to still return the job despite publish failure, got %d", len(drained))
	}
}

func TestPrune_ReducesSpokeCount(t *testing.T) {
	s, fc := newTestScheduler(t, 1_000_000)
	s.Enqueue(fc.NowMs()+3, []byte("a"))

	fc.Advance(spokeDurationMs + 2)
	s.Drain(context.Background())

	if count := s.SpokeCount(); count != 0 {
		t.Fatalf("expected spoke count 0 after drain+prune, got %d", count)
	}
}
