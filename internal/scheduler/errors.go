package scheduler

import (
	"errors"
	"fmt"
)

// Structural errors, reported synchronously at submission or query time.
// They never enter the dispatch loop. Execution errors are classified
// separately by the executor package's retryable/permanent taxonomy.
var (
	ErrDuplicateID       = errors.New("duplicate task id")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("task not found")
	ErrDraining          = errors.New("scheduler is draining")
)

// invalidTransitionError reports the offending pair alongside ErrInvalidTransition.
func invalidTransitionError(id string, from, to Status) error {
	return fmt.Errorf("task %q: %s -> %s: %w", id, from, to, ErrInvalidTransition)
}
