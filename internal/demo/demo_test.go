package demo

import (
	"context"
	"testing"
	"time"

	"go.chronowheel.dev/internal/scheduler"
)

func TestNew_AppliesDefaultsForInvalidInput(t *testing.T) {
	s, err := scheduler.New(10)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	g := New(s, 0, 0)
	if g.count != DefaultCount {
		t.Fatalf("expected default count %d, got %d", DefaultCount, g.count)
	}
}

func TestSampleDelayMs_IsBounded(t *testing.T) {
	s, err := scheduler.New(10)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	g := New(s, 1, 1)

	for i := 0; i < 1000; i++ {
		if delay := g.sampleDelayMs(); delay > 100_000 {
			t.Fatalf("sampleDelayMs produced an out-of-range value: %d", delay)
		}
	}
}

func TestGenerator_DrainUntilEmptyStopsAtZero(t *testing.T) {
	s, err := scheduler.New(10)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	g := New(s, 1, 1)

	nowMs := uint64(time.Now().UnixMilli())
	s.Enqueue(nowMs, []byte("now"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.drainUntilEmpty(ctx, 1); err != nil {
		t.Fatalf("drainUntilEmpty returned error: %v", err)
	}
}

func TestGenerator_RunRespectsCancellation(t *testing.T) {
	s, err := scheduler.New(10)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	g := New(s, 1000, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Run(ctx); err == nil {
		t.Fatal("expected Run to return an error when the context is already cancelled")
	}
}
