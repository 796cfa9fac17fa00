package hub

import (
	"testing"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/core/clock"
	"go.chronowheel.dev/internal/core/job"
	"go.chronowheel.dev/internal/core/spoke"
)

const spokeDurationMs = 10

func newTestHub(t *testing.T, startMs uint64) (*Hub, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(startMs)
	h, err := NewWithClock(spokeDurationMs, fc)
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}
	return h, fc
}

func TestNew_RejectsZeroDuration(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero spoke duration")
	}
}

func TestEmptyDrain(t *testing.T) {
	h, _ := newTestHub(t, 1_000_000)
	if drained := h.Drain(); len(drained) != 0 {
		t.Fatalf("expected empty drain, got %d jobs", len(drained))
	}
}

func TestPastDelivery(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	h.Enqueue(job.New(fc.NowMs()-10_000, []byte("old")))

	drained := h.Drain()
	if len(drained) != 1 || string(drained[0].Body) != "old" {
		t.Fatalf("expected one job 'old', got %+v", drained)
	}
	if again := h.Drain(); len(again) != 0 {
		t.Fatalf("expected second drain empty, got %d", len(again))
	}
}

func TestFutureThenReady(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	t0 := fc.NowMs()
	h.Enqueue(job.New(t0+3, []byte("a")))
	h.Enqueue(job.New(t0+4, []byte("b")))

	if drained := h.Drain(); len(drained) != 0 {
		t.Fatalf("expected nothing ready yet, got %+v", drained)
	}

	fc.Advance(spokeDurationMs + 2)
	drained := h.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(drained))
	}
	if string(drained[0].Body) != "a" || string(drained[1].Body) != "b" {
		t.Fatalf("expected order a,b, got %+v", drained)
	}
	if n := h.SpokeCount(); n != 0 {
		t.Fatalf("expected spokes pruned away, got %d remaining", n)
	}
}

func TestTwoBuckets(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	t0 := fc.NowMs()

	a := job.New(t0+3, []byte("a"))
	c := job.New(t0+24, []byte("c"))
	h.Enqueue(a)
	h.Enqueue(c)

	ownerA, ok := h.FindOwner(a.ID)
	if !ok {
		t.Fatal("expected to find owner of a")
	}
	ownerC, ok := h.FindOwner(c.ID)
	if !ok {
		t.Fatal("expected to find owner of c")
	}
	if ownerA.StartMs != clock.FloorToBucket(t0+3, spokeDurationMs) {
		t.Errorf("unexpected bucket start for a: %d", ownerA.StartMs)
	}
	if diff := ownerC.StartMs - ownerA.StartMs; diff != 20 {
		t.Errorf("expected bucket starts 20ms apart, got %d", diff)
	}
}

func TestCancel(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	j := job.New(fc.NowMs()+500, []byte("x"))
	h.Enqueue(j)

	if !h.Cancel(j.ID) {
		t.Fatal("expected cancel to succeed")
	}
	fc.Advance(600)
	for _, d := range h.Drain() {
		if d.ID == j.ID {
			t.Fatal("cancelled job should not be drained")
		}
	}
	if h.Cancel(j.ID) {
		t.Error("expected repeat cancel to return false")
	}
}

func TestFindOwner_Unknown(t *testing.T) {
	h, _ := newTestHub(t, 1_000_000)
	if _, ok := h.FindOwner(uuid.New()); ok {
		t.Error("expected unknown id to not be found")
	}
}

func TestFindOwner_PastSpoke(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	j := job.New(fc.NowMs()-1, []byte("late"))
	h.Enqueue(j)

	owner, ok := h.FindOwner(j.ID)
	if !ok {
		t.Fatal("expected to find past job")
	}
	if owner != spoke.PastInterval {
		t.Errorf("expected past interval, got %+v", owner)
	}
}

func TestEnqueue_BoundaryGoesToRegularRouting(t *testing.T) {
	h, fc := newTestHub(t, 1_000_000)
	now := fc.NowMs()
	j := job.New(now, []byte("boundary"))
	h.Enqueue(j)

	owner, ok := h.FindOwner(j.ID)
	if !ok {
		t.Fatal("expected to find job")
	}
	if owner == spoke.PastInterval {
		t.Error("a job triggering exactly now must not go to the past spoke")
	}

	if drained := h.Drain(); len(drained) != 1 {
		t.Fatalf("job exactly at now should be drainable immediately, got %d", len(drained))
	}
}

func TestDrainOrdering_NonDecreasing(t *testing.T) {
	h, fc := newTestHub(t, 0)
	t0 := fc.NowMs()
	triggers := []uint64{50, 5, 25, 100, 1}
	for _, tr := range triggers {
		h.Enqueue(job.New(t0+tr, []byte{byte(tr)}))
	}
	fc.Advance(200)

	drained := h.Drain()
	for i := 1; i < len(drained); i++ {
		if drained[i].TriggerAtMs < drained[i-1].TriggerAtMs {
			t.Fatalf("drain order not non-decreasing at %d: %+v", i, drained)
		}
	}
}

func TestPrune_LeavesNonExpiredOrNonEmptyAlone(t *testing.T) {
	h, fc := newTestHub(t, 0)
	t0 := fc.NowMs()

	h.Enqueue(job.New(t0+5, []byte("expires-empty")))
	kept := job.New(t0+1005, []byte("future"))
	h.Enqueue(kept)

	fc.Advance(20)
	h.Drain()

	if n := h.SpokeCount(); n != 1 {
		t.Fatalf("expected 1 remaining spoke (future), got %d", n)
	}
	if _, ok := h.FindOwner(kept.ID); !ok {
		t.Error("future job should still be owned")
	}
}
