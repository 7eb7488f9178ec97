package scheduler

import "fmt"

// Table is the authoritative id -> Task mapping. It is owned exclusively
// by the scheduler loop, which serializes all access; callers outside the
// loop only ever see clones.
type Table struct {
	tasks map[string]*Task
}

// NewTable creates an empty task table.
func NewTable() *Table {
	return &Table{tasks: make(map[string]*Task)}
}

// Insert adds a task. Returns ErrDuplicateID if the id is already present.
func (tb *Table) Insert(t *Task) error {
	if _, exists := tb.tasks[t.ID]; exists {
		return fmt.Errorf("task %q: %w", t.ID, ErrDuplicateID)
	}
	tb.tasks[t.ID] = t
	return nil
}

// Get returns the live task record. Returns ErrNotFound if absent.
func (tb *Table) Get(id string) (*Task, error) {
	t, exists := tb.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return t, nil
}

// Has reports whether a task id is known.
func (tb *Table) Has(id string) bool {
	_, exists := tb.tasks[id]
	return exists
}

// Transition moves a task to a new status, validating the move against
// the task state machine. Returns ErrInvalidTransition for unreachable
// targets so a buggy caller can never corrupt lifecycle bookkeeping.
func (tb *Table) Transition(id string, to Status) error {
	t, err := tb.Get(id)
	if err != nil {
		return err
	}
	if !validTransition(t.Status, to) {
		return invalidTransitionError(id, t.Status, to)
	}
	t.Status = to
	return nil
}

// Remove evicts a task record. Used only for history eviction of
// terminal tasks and rollback of partially-admitted batches.
func (tb *Table) Remove(id string) {
	delete(tb.tasks, id)
}

// Len returns the number of tracked tasks, terminal included.
func (tb *Table) Len() int {
	return len(tb.tasks)
}

// All returns every live task record. Loop-internal use only.
func (tb *Table) All() []*Task {
	out := make([]*Task, 0, len(tb.tasks))
	for _, t := range tb.tasks {
		out = append(out, t)
	}
	return out
}

// validTransition encodes the task state machine. Transitions are
// monotonic except running -> queued (retry after transient failure).
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusEligible || to == StatusCancelled
	case StatusEligible:
		return to == StatusQueued || to == StatusCancelled
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled || to == StatusFailed
	case StatusRunning:
		// running -> queued is the retry path after a transient failure.
		return to == StatusSucceeded || to == StatusFailed || to == StatusCancelled || to == StatusQueued
	default:
		return false
	}
}
