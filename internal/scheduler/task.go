package scheduler

import "time"

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusEligible                // All dependencies succeeded, ready to queue
	StatusQueued                  // In the priority queue (or waiting out a retry delay)
	StatusRunning                 // Handed to an executor
	StatusSucceeded               // Finished successfully
	StatusFailed                  // Finished with a permanent error
	StatusCancelled               // Cancelled directly or via dependency failure
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusEligible:
		return "eligible"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether a task in this status will never transition again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Task represents a unit of blockchain work in the scheduler.
// Protocol, Action and Params are opaque to the scheduler and forwarded
// verbatim to the executor; Protocol is additionally used for per-protocol
// concurrency limits and metrics labels.
type Task struct {
	ID            string
	Protocol      string         // e.g. "stargate", "uniswap"
	Action        string         // e.g. "bridge", "swap"
	Params        map[string]any // Opaque executor payload
	Priority      int            // Higher dispatches first
	DependsOn     []string       // Task IDs that must reach succeeded first
	GateSensitive bool           // Dispatch only while the gate is open

	Status      Status
	Attempts    int // Execution attempts started so far
	MaxAttempts int
	LastError   string
	Output      string
	NextRetryAt time.Time // Zero unless waiting out a retry delay

	Seq        uint64 // Submission sequence, assigned at admission
	CreatedAt  time.Time
	QueuedAt   time.Time // Last time the task entered the priority queue
	StartedAt  time.Time
	FinishedAt time.Time
}

// Clone returns a deep copy safe to hand outside the scheduler loop.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Params != nil {
		cp.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}
