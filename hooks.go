package keel

import "context"

// Phase tells a listener whether it runs before or after a statement.
type Phase uint8

// Listener phases.
const (
	PhaseBefore Phase = iota
	PhaseAfter
)

// String returns the phase token, e.g. "before".
func (p Phase) String() string {
	if p == PhaseBefore {
		return "before"
	}
	return "after"
}

// Event is delivered to listeners around every insert, update and
// remove the executor performs. The record is the caller's instance;
// after-phase events observe generated values already merged in.
type Event struct {
	Op     Op
	Phase  Phase
	Record *Record
}

// Listener observes persistence lifecycle events. A non-nil error from
// any listener aborts the batch exactly like a failed statement,
// rolling back an owned transaction.
type Listener func(ctx context.Context, ev Event) error
