// Package hub implements the timing wheel: an ordered collection of
// time-bucketed Spokes plus a past-Spoke, and the routing, drain, cancel,
// lookup and pruning algorithms that keep them consistent.
package hub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/core/clock"
	"go.chronowheel.dev/internal/core/job"
	"go.chronowheel.dev/internal/core/spoke"
)

// Hub owns every Spoke and routes, drains, cancels and prunes jobs across
// them under a single mutex. No I/O happens inside the critical section.
type Hub struct {
	mu              sync.Mutex
	clock           clock.Clock
	spokeDurationMs uint64
	past            *spoke.Spoke
	spokes          map[spoke.BoundingInterval]*spoke.Spoke
	order           []spoke.BoundingInterval // kept sorted ascending by interval
}

// New constructs a Hub whose regular Spokes are each spokeDurationMs wide,
// using the system wall clock.
func New(spokeDurationMs uint64) (*Hub, error) {
	return NewWithClock(spokeDurationMs, clock.System{})
}

// NewWithClock is New with an injectable Clock, for deterministic tests.
func NewWithClock(spokeDurationMs uint64, c clock.Clock) (*Hub, error) {
	if spokeDurationMs == 0 {
		return nil, fmt.Errorf("hub: spokeDurationMs must be > 0")
	}
	return &Hub{
		clock:           c,
		spokeDurationMs: spokeDurationMs,
		past:            spoke.NewPast(),
		spokes:          make(map[spoke.BoundingInterval]*spoke.Spoke),
	}, nil
}

// Enqueue routes job into the past-Spoke (if already overdue) or the
// regular Spoke covering its trigger time, creating that Spoke on demand.
func (h *Hub) Enqueue(j job.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(j)
}

func (h *Hub) enqueueLocked(j job.Job) {
	now := h.clock.NowMs()

	if j.TriggerAtMs < now {
		if _, ok := h.past.TryAdd(now, j); !ok {
			panic("hub: past-spoke rejected a job, invariant violated")
		}
		return
	}

	bucketStart := clock.FloorToBucket(j.TriggerAtMs, h.spokeDurationMs)
	key := spoke.BoundingInterval{StartMs: bucketStart, EndMs: bucketStart + h.spokeDurationMs}

	s, ok := h.spokes[key]
	if !ok {
		s = spoke.New(bucketStart, h.spokeDurationMs)
		h.insertSpoke(key, s)
	}

	if _, ok := s.TryAdd(now, j); !ok {
		panic("hub: freshly bounded spoke rejected its own job, invariant violated")
	}
}

// insertSpoke adds a newly created Spoke to both the lookup map and the
// sorted interval order.
func (h *Hub) insertSpoke(key spoke.BoundingInterval, s *spoke.Spoke) {
	h.spokes[key] = s
	i := sort.Search(len(h.order), func(i int) bool {
		return !h.order[i].Less(key)
	})
	h.order = append(h.order, spoke.BoundingInterval{})
	copy(h.order[i+1:], h.order[i:])
	h.order[i] = key
}

// Drain returns every job ready right now: the past-Spoke's contents
// first, then each regular Spoke in ascending interval order whose window
// has opened, each spoke's own jobs emitted soonest-first. Pruning runs
// automatically afterward.
func (h *Hub) Drain() []job.Job {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.NowMs()
	var drained []job.Job
	drained = append(drained, h.past.DrainReady(now)...)

	for _, key := range h.order {
		s := h.spokes[key]
		if !s.IsReady(now) {
			break // order is ascending by start; nothing further is ready either
		}
		drained = append(drained, s.DrainReady(now)...)
	}

	h.pruneLocked(now)
	return drained
}

// Prune removes regular Spokes that are both expired and empty, returning
// the count removed.
func (h *Hub) Prune() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pruneLocked(h.clock.NowMs())
}

// pruneLocked removes expired, empty Spokes. Intervals are ascending by
// start and share a fixed width, so IsExpired(now) is monotonic across
// h.order: once a Spoke is not yet expired, none of the later ones are
// either, and the scan can stop.
func (h *Hub) pruneLocked(now uint64) uint32 {
	var removed uint32
	kept := make([]spoke.BoundingInterval, 0, len(h.order))
	for i, key := range h.order {
		s := h.spokes[key]
		if !s.IsExpired(now) {
			kept = append(kept, h.order[i:]...)
			break
		}
		if s.PendingLen() == 0 {
			delete(h.spokes, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	h.order = kept
	return removed
}

// Cancel removes a pending job by identity, checking the past-Spoke first.
func (h *Hub) Cancel(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.past.Cancel(id) {
		return true
	}
	for _, key := range h.order {
		if h.spokes[key].Cancel(id) {
			return true
		}
	}
	return false
}

// FindOwner returns the interval of the Spoke currently holding id.
func (h *Hub) FindOwner(id uuid.UUID) (spoke.BoundingInterval, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.past.Owns(id) {
		return spoke.PastInterval, true
	}
	for _, key := range h.order {
		if h.spokes[key].Owns(id) {
			return key, true
		}
	}
	return spoke.BoundingInterval{}, false
}

// SpokeCount returns the number of live regular Spokes (excluding the
// past-Spoke), for diagnostics and metrics.
func (h *Hub) SpokeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}
