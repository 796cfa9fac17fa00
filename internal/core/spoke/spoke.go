// Package spoke implements the time-bounded job container used by the
// Hub: a min-heap of job metadata ordered by trigger time, paired with a
// body index that makes cancellation and ownership checks O(1) and lets
// DrainReady lazily discard metadata for cancelled jobs.
package spoke

import (
	"container/heap"
	"math"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/core/job"
)

// BoundingInterval is the half-open time range [StartMs, EndMs) a regular
// Spoke owns. A job with TriggerAtMs == t belongs to the interval iff
// StartMs <= t < EndMs.
type BoundingInterval struct {
	StartMs uint64
	EndMs   uint64
}

// Contains reports whether t falls in the half-open interval.
func (b BoundingInterval) Contains(t uint64) bool {
	return b.StartMs <= t && t < b.EndMs
}

// Less orders intervals ascending by start, then end.
func (b BoundingInterval) Less(other BoundingInterval) bool {
	if b.StartMs != other.StartMs {
		return b.StartMs < other.StartMs
	}
	return b.EndMs < other.EndMs
}

// PastInterval is the sentinel bounds of the Hub's past-Spoke: it accepts
// everything and never expires.
var PastInterval = BoundingInterval{StartMs: 0, EndMs: math.MaxUint64}

// Spoke is a time-bounded min-heap of jobs (soonest trigger first), with a
// secondary body index enabling O(1) Cancel/Owns without heap scans.
type Spoke struct {
	bounds BoundingInterval
	heap   metaHeap
	bodies map[uuid.UUID][]byte
}

// New constructs an empty Spoke covering [startMs, startMs+durationMs).
func New(startMs, durationMs uint64) *Spoke {
	return &Spoke{
		bounds: BoundingInterval{StartMs: startMs, EndMs: startMs + durationMs},
		bodies: make(map[uuid.UUID][]byte),
	}
}

// NewPast constructs the Hub's singleton past-Spoke.
func NewPast() *Spoke {
	return &Spoke{
		bounds: PastInterval,
		bodies: make(map[uuid.UUID][]byte),
	}
}

// Bounds returns the Spoke's interval.
func (s *Spoke) Bounds() BoundingInterval {
	return s.bounds
}

// IsReady reports whether the Spoke's window has opened.
func (s *Spoke) IsReady(nowMs uint64) bool {
	return s.bounds.StartMs <= nowMs
}

// IsExpired reports whether the Spoke's window has fully elapsed. A
// past-Spoke (EndMs == math.MaxUint64) is never expired.
func (s *Spoke) IsExpired(nowMs uint64) bool {
	return s.bounds.EndMs < nowMs
}

// PendingLen returns the logical count of jobs still owned by the Spoke
// (the body index size, not the heap size, which may include lazily
// deleted entries).
func (s *Spoke) PendingLen() int {
	return len(s.bodies)
}

// TryAdd inserts job if it is in-bounds and the Spoke isn't expired. On
// rejection it hands the job back unchanged so the caller can try
// elsewhere.
func (s *Spoke) TryAdd(now uint64, j job.Job) (job.Job, bool) {
	if s.IsExpired(now) || !s.bounds.Contains(j.TriggerAtMs) {
		return j, false
	}
	heap.Push(&s.heap, j.Meta())
	s.bodies[j.ID] = j.Body
	return job.Job{}, true
}

// DrainReady pops every job whose TriggerAtMs <= now, in trigger order,
// discarding any popped metadata whose body was already cancelled.
func (s *Spoke) DrainReady(now uint64) []job.Job {
	var ready []job.Job
	for s.heap.Len() > 0 && s.heap[0].TriggerAtMs <= now {
		m := heap.Pop(&s.heap).(job.Meta)
		body, ok := s.bodies[m.ID]
		if !ok {
			continue // lazily deleted: cancelled before it fired
		}
		delete(s.bodies, m.ID)
		ready = append(ready, job.Job{ID: m.ID, TriggerAtMs: m.TriggerAtMs, Body: body})
	}
	return ready
}

// Cancel removes the body for id, if present. The heap entry is left in
// place for lazy deletion during DrainReady.
func (s *Spoke) Cancel(id uuid.UUID) bool {
	if _, ok := s.bodies[id]; !ok {
		return false
	}
	delete(s.bodies, id)
	return true
}

// Owns reports whether id is still live in this Spoke.
func (s *Spoke) Owns(id uuid.UUID) bool {
	_, ok := s.bodies[id]
	return ok
}

// metaHeap is a container/heap min-heap on TriggerAtMs (soonest first).
type metaHeap []job.Meta

func (h metaHeap) Len() int { return len(h) }
func (h metaHeap) Less(i, j int) bool {
	return h[i].TriggerAtMs < h[j].TriggerAtMs
}
func (h metaHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *metaHeap) Push(x any) {
	*h = append(*h, x.(job.Meta))
}

func (h *metaHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
