package events

import "time"

// Event is the base interface for all scheduler events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicScheduler = "scheduler"
)

// Event type constants
const (
	EventTypeTaskSubmitted = "task.submitted"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskSucceeded = "task.succeeded"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskRetried   = "task.retried"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeProgress      = "scheduler.progress"
)

// TaskSubmittedEvent is published when a task is admitted.
type TaskSubmittedEvent struct {
	ID        string
	Protocol  string
	Action    string
	Priority  int
	DependsOn []string
	Timestamp time.Time
}

func (e TaskSubmittedEvent) EventType() string { return EventTypeTaskSubmitted }
func (e TaskSubmittedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a task is handed to an executor.
type TaskStartedEvent struct {
	ID        string
	Protocol  string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskSucceededEvent is published when a task completes successfully.
type TaskSucceededEvent struct {
	ID        string
	Protocol  string
	Output    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskSucceededEvent) EventType() string { return EventTypeTaskSucceeded }
func (e TaskSucceededEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails terminally.
type TaskFailedEvent struct {
	ID        string
	Protocol  string
	Attempts  int
	Err       string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskRetriedEvent is published when a failed attempt is scheduled for
// another try.
type TaskRetriedEvent struct {
	ID          string
	Protocol    string
	Attempt     int
	Err         string
	NextRetryAt time.Time
	Timestamp   time.Time
}

func (e TaskRetriedEvent) EventType() string { return EventTypeTaskRetried }
func (e TaskRetriedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled, directly or
// through a failed dependency.
type TaskCancelledEvent struct {
	ID        string
	Protocol  string
	Reason    string // "requested" or "dependency"
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// ProgressEvent summarizes scheduler occupancy after a dispatch pass.
type ProgressEvent struct {
	Queued    int
	Running   int
	Delayed   int
	Terminal  int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }
