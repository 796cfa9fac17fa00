// Package job defines the unit of work the timing wheel schedules.
package job

import "github.com/google/uuid"

// Job is an immutable unit of work: a stable identity, the absolute time
// it should fire, and an opaque body. Identity is assigned at creation and
// never changes; two Jobs are equal iff their IDs are equal, regardless of
// TriggerAtMs or Body.
type Job struct {
	ID          uuid.UUID
	TriggerAtMs uint64
	Body        []byte
}

// New creates a Job with a freshly-generated random identity.
func New(triggerAtMs uint64, body []byte) Job {
	return Job{
		ID:          uuid.New(),
		TriggerAtMs: triggerAtMs,
		Body:        body,
	}
}

// Equal reports whether two jobs share the same identity.
func (j Job) Equal(other Job) bool {
	return j.ID == other.ID
}

// Meta is the subset of a Job kept in a Spoke's heap: identity and trigger
// time only, so the heap never holds a body for a job that may have
// already been cancelled.
type Meta struct {
	ID          uuid.UUID
	TriggerAtMs uint64
}

func (j Job) Meta() Meta {
	return Meta{ID: j.ID, TriggerAtMs: j.TriggerAtMs}
}
