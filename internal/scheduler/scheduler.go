package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainsched/chainsched/internal/ctxlog"
	"github.com/chainsched/chainsched/internal/events"
	"github.com/chainsched/chainsched/internal/executor"
	"github.com/chainsched/chainsched/internal/metrics"
)

// ErrStopped is returned by operations issued after the scheduler loop
// has exited.
var ErrStopped = errors.New("scheduler stopped")

// Store persists task state so dispatch can resume after a restart.
// Implementations must be safe for concurrent use; a nil store disables
// durability.
type Store interface {
	SaveTask(ctx context.Context, t *Task) error
}

// Config configures the scheduler.
type Config struct {
	GlobalLimit        int64            // Max tasks running at once (default 4)
	ProtocolLimits     map[string]int64 // Optional per-protocol caps
	TickInterval       time.Duration    // Dispatch tick (default 250ms)
	ExecTimeout        time.Duration    // Per-task execution timeout (default 5min)
	QueueWaitTimeout   time.Duration    // 0 disables the queue-wait bound
	DefaultMaxAttempts int              // Used when a submission omits it (default 3)
	HistoryLimit       int              // Retained terminal tasks (default 10000)
	Retry              RetryConfig
}

func (c Config) withDefaults() Config {
	if c.GlobalLimit <= 0 {
		c.GlobalLimit = 4
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 5 * time.Minute
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10000
	}
	return c
}

// Options carries the scheduler's collaborators. Executors is required;
// everything else may be nil.
type Options struct {
	Executors *executor.Registry
	Gate      *Gate
	Bus       *events.Bus
	Metrics   *metrics.Registry
	Store     Store
}

// TaskSpec is a submission request. ID may be empty, in which case one
// is assigned.
type TaskSpec struct {
	ID            string
	Protocol      string
	Action        string
	Params        map[string]any
	Priority      int
	DependsOn     []string
	GateSensitive bool
	MaxAttempts   int
}

type completion struct {
	id      string
	attempt int
	result  executor.Result
	err     error
}

type runningTask struct {
	cancel context.CancelFunc
}

// Scheduler is the central orchestrator. All mutable state (task table,
// dependency graph, priority queue, delayed-retry set) is owned by a
// single loop goroutine; public methods hand it closures over an ops
// channel, so no operation ever races another. Executor calls are the
// only thing that runs outside the loop, bounded by the limiter.
type Scheduler struct {
	cfg     Config
	table   *Table
	graph   *Graph
	queue   *Queue
	limiter *Limiter
	retry   *RetryPolicy
	gate    *Gate
	execs   *executor.Registry
	bus     *events.Bus
	metrics *metrics.Registry
	store   Store

	ops         chan func()
	completions chan completion
	running     map[string]*runningTask
	delayed     map[string]struct{}
	terminals   []string // terminal ids in completion order, for history eviction

	seq       uint64
	draining  bool
	drainDone chan struct{}
	drained   bool

	rootCtx context.Context
	stopped chan struct{}
}

// New creates a scheduler. Call Start before submitting.
func New(cfg Config, opts Options) *Scheduler {
	cfg = cfg.withDefaults()
	execs := opts.Executors
	if execs == nil {
		execs = executor.NewRegistry()
	}
	return &Scheduler{
		cfg:         cfg,
		table:       NewTable(),
		graph:       NewGraph(),
		queue:       NewQueue(),
		limiter:     NewLimiter(cfg.GlobalLimit, cfg.ProtocolLimits),
		retry:       NewRetryPolicy(cfg.Retry),
		gate:        opts.Gate,
		execs:       execs,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		store:       opts.Store,
		ops:         make(chan func(), 64),
		completions: make(chan completion, cfg.GlobalLimit),
		running:     make(map[string]*runningTask),
		delayed:     make(map[string]struct{}),
		drainDone:   make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start launches the scheduler loop. The loop exits when ctx is
// cancelled; in-flight executor calls are cancelled with it.
func (s *Scheduler) Start(ctx context.Context) {
	s.rootCtx = ctx
	go s.run(ctx)
}

// Stopped is closed when the scheduler loop has exited.
func (s *Scheduler) Stopped() <-chan struct{} {
	return s.stopped
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		case c := <-s.completions:
			s.handleCompletion(c)
			s.dispatch()
		case <-ticker.C:
			s.promoteDueRetries(time.Now())
			s.dispatch()
		}
	}
}

// do runs fn on the scheduler loop and waits for it to finish.
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.ops <- wrapped:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit admits a single task and returns its id. Fails fast with
// ErrDuplicateID, ErrCyclicDependency or ErrNotFound (unknown
// dependency) before any state is mutated.
func (s *Scheduler) Submit(ctx context.Context, spec TaskSpec) (string, error) {
	ids, err := s.SubmitBatch(ctx, []TaskSpec{spec})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SubmitBatch atomically admits a set of tasks that may depend on each
// other. If any task would create a cycle or duplicate an id, none are
// admitted.
func (s *Scheduler) SubmitBatch(ctx context.Context, specs []TaskSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	var ids []string
	var admitErr error
	err := s.do(ctx, func() {
		ids, admitErr = s.admit(specs)
		if admitErr == nil {
			s.dispatch()
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, admitErr
}

// Cancel cancels a task. Pending, eligible and queued tasks are
// cancelled immediately and the cancellation cascades to dependents.
// For a running task the cancellation is advisory: the executor context
// is cancelled, and whatever result still arrives is discarded.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	var opErr error
	err := s.do(ctx, func() {
		opErr = s.cancel(id)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Status returns a copy of the task record.
func (s *Scheduler) Status(ctx context.Context, id string) (*Task, error) {
	var t *Task
	var opErr error
	err := s.do(ctx, func() {
		var live *Task
		live, opErr = s.table.Get(id)
		if opErr == nil {
			t = live.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	return t, opErr
}

// Tasks returns copies of every tracked task, terminal included.
func (s *Scheduler) Tasks(ctx context.Context) ([]*Task, error) {
	var out []*Task
	err := s.do(ctx, func() {
		for _, t := range s.table.All() {
			out = append(out, t.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Drain stops accepting new submissions and new dispatches, then waits
// for in-flight tasks to finish or fail. Already-queued tasks keep their
// state and are reported as-is.
func (s *Scheduler) Drain(ctx context.Context) error {
	err := s.do(ctx, func() {
		s.draining = true
		s.checkDrained()
	})
	if err != nil {
		return err
	}
	select {
	case <-s.drainDone:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restore loads previously persisted tasks before Start. Running tasks
// are requeued as retryable-unknown: in-flight execution status cannot
// be trusted across a restart, and assuming success would be worse than
// re-running an idempotent executor.
func (s *Scheduler) Restore(tasks []*Task) error {
	succeeded := make(map[string]struct{})
	for _, t := range tasks {
		if t.Status == StatusSucceeded {
			succeeded[t.ID] = struct{}{}
		}
	}
	now := time.Now()
	for _, t := range tasks {
		t := t.Clone()
		if t.Status == StatusRunning {
			t.Status = StatusQueued
			t.NextRetryAt = time.Time{}
			t.QueuedAt = now
			t.LastError = "interrupted by scheduler restart"
		}
		if err := s.table.Insert(t); err != nil {
			return fmt.Errorf("restoring task %q: %w", t.ID, err)
		}
		if t.Seq > s.seq {
			s.seq = t.Seq
		}
		if t.Status.Terminal() {
			s.terminals = append(s.terminals, t.ID)
			continue
		}
		s.graph.Register(t, func(id string) bool {
			_, ok := succeeded[id]
			return ok
		})
		switch t.Status {
		case StatusQueued, StatusEligible:
			if t.Status == StatusEligible {
				t.Status = StatusQueued
			}
			if !t.NextRetryAt.IsZero() && t.NextRetryAt.After(now) {
				s.delayed[t.ID] = struct{}{}
			} else {
				t.NextRetryAt = time.Time{}
				t.QueuedAt = now
				s.queue.Push(t)
			}
		}
	}

	// Settle restored pending tasks against the snapshot's terminal
	// outcomes: a failed or cancelled dependency cascades now, a fully
	// satisfied dependency set queues now.
	terminal := make(map[string]Status)
	for _, t := range tasks {
		if t.Status.Terminal() {
			terminal[t.ID] = t.Status
		}
	}
	for _, orig := range tasks {
		t, err := s.table.Get(orig.ID)
		if err != nil || t.Status != StatusPending {
			continue
		}
		for _, depID := range t.DependsOn {
			if st, ok := terminal[depID]; ok && st != StatusSucceeded {
				s.cancelLocal(t, "dependency", now)
				break
			}
		}
		if t.Status == StatusPending && !s.graph.Blocked(t.ID) {
			s.enqueue(t, now)
		}
	}
	return nil
}

// ---- loop-internal operations -------------------------------------------

func (s *Scheduler) admit(specs []TaskSpec) ([]string, error) {
	if s.draining {
		return nil, ErrDraining
	}
	now := time.Now()

	staged := make([]*Task, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("task %q: %w", id, ErrDuplicateID)
		}
		seen[id] = struct{}{}
		if s.table.Has(id) {
			return nil, fmt.Errorf("task %q: %w", id, ErrDuplicateID)
		}
		maxAttempts := spec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = s.cfg.DefaultMaxAttempts
		}
		staged = append(staged, &Task{
			ID:            id,
			Protocol:      spec.Protocol,
			Action:        spec.Action,
			Params:        spec.Params,
			Priority:      spec.Priority,
			DependsOn:     append([]string(nil), spec.DependsOn...),
			GateSensitive: spec.GateSensitive,
			MaxAttempts:   maxAttempts,
			Status:        StatusPending,
			CreatedAt:     now,
		})
	}

	if err := s.graph.CheckAdmission(staged, s.table.Has); err != nil {
		return nil, err
	}

	// Validation passed; from here admission cannot fail partially.
	ids := make([]string, 0, len(staged))
	for _, t := range staged {
		s.seq++
		t.Seq = s.seq
		_ = s.table.Insert(t)
		s.graph.Register(t, func(id string) bool {
			dep, err := s.table.Get(id)
			return err == nil && dep.Status == StatusSucceeded
		})
		ids = append(ids, t.ID)

		s.publish(events.TopicTask, events.TaskSubmittedEvent{
			ID: t.ID, Protocol: t.Protocol, Action: t.Action,
			Priority: t.Priority, DependsOn: t.DependsOn, Timestamp: now,
		})
		s.metrics.IncCounter("tasks_submitted", map[string]string{"protocol": t.Protocol}, 1)
		s.persist(t)
	}

	// A dependency that already failed or was cancelled propagates to the
	// new task right away; one that is still pending resolves later.
	for _, t := range staged {
		if t.Status != StatusPending {
			continue
		}
		for _, depID := range t.DependsOn {
			dep, err := s.table.Get(depID)
			if err != nil {
				continue
			}
			if dep.Status == StatusFailed || dep.Status == StatusCancelled {
				s.cancelLocal(t, "dependency", now)
				break
			}
		}
	}

	for _, t := range staged {
		if t.Status == StatusPending && !s.graph.Blocked(t.ID) {
			s.enqueue(t, now)
		}
	}
	return ids, nil
}

func (s *Scheduler) cancel(id string) error {
	t, err := s.table.Get(id)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusCancelled:
		return nil
	case StatusSucceeded, StatusFailed:
		return invalidTransitionError(id, t.Status, StatusCancelled)
	case StatusRunning:
		// Advisory: cancel the executor context, discard any late result.
		now := time.Now()
		_ = s.table.Transition(id, StatusCancelled)
		t.FinishedAt = now
		if r := s.running[id]; r != nil {
			r.cancel()
		}
		s.finishCancelled(t, "requested", now)
		return nil
	default: // Pending, Eligible, Queued
		now := time.Now()
		s.cancelLocal(t, "requested", now)
		return nil
	}
}

// cancelLocal cancels a task that is not running and cascades to its
// dependents.
func (s *Scheduler) cancelLocal(t *Task, reason string, now time.Time) {
	s.queue.Remove(t.ID)
	delete(s.delayed, t.ID)
	_ = s.table.Transition(t.ID, StatusCancelled)
	t.FinishedAt = now
	s.finishCancelled(t, reason, now)
}

// finishCancelled records a cancellation that has already transitioned
// and cascades it through the graph.
func (s *Scheduler) finishCancelled(t *Task, reason string, now time.Time) {
	s.publish(events.TopicTask, events.TaskCancelledEvent{
		ID: t.ID, Protocol: t.Protocol, Reason: reason, Timestamp: now,
	})
	s.metrics.IncCounter("tasks_cancelled", map[string]string{"protocol": t.Protocol}, 1)
	s.persist(t)
	s.cascadeCancel(t.ID, now)
	s.recordTerminal(t.ID)
}

// cascadeCancel marks every transitive dependent of a failed or
// cancelled task as cancelled. Dependency failure is contagious and
// immediate; it is never retried on behalf of the dependent.
func (s *Scheduler) cascadeCancel(id string, now time.Time) {
	_, cancelled := s.graph.OnTaskTerminal(id, false)
	for _, cid := range cancelled {
		ct, err := s.table.Get(cid)
		if err != nil {
			continue
		}
		s.queue.Remove(cid)
		delete(s.delayed, cid)
		_ = s.table.Transition(cid, StatusCancelled)
		ct.FinishedAt = now
		s.publish(events.TopicTask, events.TaskCancelledEvent{
			ID: cid, Protocol: ct.Protocol, Reason: "dependency", Timestamp: now,
		})
		s.metrics.IncCounter("tasks_cancelled", map[string]string{"protocol": ct.Protocol}, 1)
		s.persist(ct)
		s.recordTerminal(cid)
	}
}

// enqueue moves a task whose dependencies are satisfied into the
// priority queue.
func (s *Scheduler) enqueue(t *Task, now time.Time) {
	if t.Status == StatusPending {
		_ = s.table.Transition(t.ID, StatusEligible)
	}
	_ = s.table.Transition(t.ID, StatusQueued)
	t.QueuedAt = now
	s.queue.Push(t)
}

// promoteDueRetries moves delayed-retry tasks whose time has come back
// into the priority queue.
func (s *Scheduler) promoteDueRetries(now time.Time) {
	for id := range s.delayed {
		t, err := s.table.Get(id)
		if err != nil {
			delete(s.delayed, id)
			continue
		}
		if now.Before(t.NextRetryAt) {
			continue
		}
		delete(s.delayed, id)
		t.NextRetryAt = time.Time{}
		t.QueuedAt = now
		s.queue.Push(t)
	}
}

// dispatch pops eligible tasks while capacity and the gate allow, and
// hands each to its executor on a fresh goroutine.
func (s *Scheduler) dispatch() {
	now := time.Now()
	if s.draining {
		s.publishProgress(now)
		return
	}

	var skipped []*Task
pop:
	for {
		t := s.queue.Pop()
		if t == nil {
			break
		}
		if s.cfg.QueueWaitTimeout > 0 && !t.QueuedAt.IsZero() && now.Sub(t.QueuedAt) > s.cfg.QueueWaitTimeout {
			// Starvation bound: surfaces as a retryable execution error.
			t.Attempts++
			s.handleAttemptFailure(t, fmt.Errorf("waited in queue longer than %s", s.cfg.QueueWaitTimeout), now)
			continue
		}
		if t.GateSensitive && !s.gate.Allows(s.rootCtx, now) {
			skipped = append(skipped, t)
			continue
		}
		switch s.limiter.TryAcquire(t.Protocol) {
		case GlobalBusy:
			skipped = append(skipped, t)
			break pop
		case ProtocolBusy:
			skipped = append(skipped, t)
			continue
		}
		s.startTask(t, now)
	}
	for _, t := range skipped {
		s.queue.Push(t)
	}
	s.publishProgress(now)
}

func (s *Scheduler) startTask(t *Task, now time.Time) {
	t.Attempts++
	t.StartedAt = now
	t.NextRetryAt = time.Time{}
	_ = s.table.Transition(t.ID, StatusRunning)

	runCtx, cancel := context.WithCancel(s.rootCtx)
	s.running[t.ID] = &runningTask{cancel: cancel}

	req := executor.Request{
		TaskID:   t.ID,
		Protocol: t.Protocol,
		Action:   t.Action,
		Params:   t.Params,
		Attempt:  t.Attempts,
	}
	attempt := t.Attempts
	exec, lookupErr := s.execs.Lookup(t.Protocol)
	timeout := s.cfg.ExecTimeout

	s.publish(events.TopicTask, events.TaskStartedEvent{
		ID: t.ID, Protocol: t.Protocol, Attempt: attempt, Timestamp: now,
	})
	if !t.QueuedAt.IsZero() {
		s.metrics.SetGauge("dispatch_latency_ms", map[string]string{"protocol": t.Protocol},
			float64(now.Sub(t.QueuedAt).Milliseconds()))
	}

	go func() {
		defer cancel()
		var result executor.Result
		err := lookupErr
		if err == nil {
			execCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
			result, err = exec.Execute(execCtx, req)
			cancelTimeout()
		}
		select {
		case s.completions <- completion{id: req.TaskID, attempt: attempt, result: result, err: err}:
		case <-s.stopped:
		}
	}()
}

func (s *Scheduler) handleCompletion(c completion) {
	t, err := s.table.Get(c.id)
	if err != nil {
		return
	}
	if r := s.running[c.id]; r != nil {
		r.cancel()
		delete(s.running, c.id)
		s.limiter.Release(t.Protocol)
	}

	now := time.Now()
	switch {
	case t.Status == StatusCancelled:
		// Advisory cancel won the race; the result is discarded.
		ctxlog.FromContext(s.rootCtx).Debug("discarding result of cancelled task",
			"task", c.id, "protocol", t.Protocol)
	case t.Status != StatusRunning || c.attempt != t.Attempts:
		// Stale completion from a superseded attempt.
	case c.err == nil:
		t.Output = c.result.Output
		t.LastError = ""
		t.FinishedAt = now
		_ = s.table.Transition(t.ID, StatusSucceeded)
		s.publish(events.TopicTask, events.TaskSucceededEvent{
			ID: t.ID, Protocol: t.Protocol, Output: t.Output,
			Duration: now.Sub(t.StartedAt), Timestamp: now,
		})
		s.metrics.IncCounter("tasks_succeeded", map[string]string{"protocol": t.Protocol}, 1)
		s.persist(t)
		eligible, _ := s.graph.OnTaskTerminal(t.ID, true)
		for _, id := range eligible {
			dep, err := s.table.Get(id)
			if err != nil {
				continue
			}
			s.enqueue(dep, now)
			s.persist(dep)
		}
		s.recordTerminal(t.ID)
	default:
		s.handleAttemptFailure(t, c.err, now)
	}
	s.checkDrained()
}

// handleAttemptFailure routes a failed attempt through the retry policy.
// The task is either parked for a delayed retry or failed terminally,
// cascading cancellation to its dependents.
func (s *Scheduler) handleAttemptFailure(t *Task, err error, now time.Time) {
	t.LastError = err.Error()

	if s.retry.ShouldRetry(t, err) {
		delay := s.retry.NextDelay(t.Attempts)
		t.NextRetryAt = now.Add(delay)
		if t.Status == StatusRunning {
			_ = s.table.Transition(t.ID, StatusQueued)
		}
		t.QueuedAt = now
		s.delayed[t.ID] = struct{}{}
		s.publish(events.TopicTask, events.TaskRetriedEvent{
			ID: t.ID, Protocol: t.Protocol, Attempt: t.Attempts,
			Err: t.LastError, NextRetryAt: t.NextRetryAt, Timestamp: now,
		})
		s.metrics.IncCounter("tasks_retried", map[string]string{"protocol": t.Protocol}, 1)
		s.persist(t)
		return
	}

	t.FinishedAt = now
	_ = s.table.Transition(t.ID, StatusFailed)
	s.publish(events.TopicTask, events.TaskFailedEvent{
		ID: t.ID, Protocol: t.Protocol, Attempts: t.Attempts,
		Err: t.LastError, Timestamp: now,
	})
	s.metrics.IncCounter("tasks_failed", map[string]string{"protocol": t.Protocol}, 1)
	s.persist(t)
	s.cascadeCancel(t.ID, now)
	s.recordTerminal(t.ID)
}

// recordTerminal tracks terminal order and evicts history beyond the
// configured window. Evicted ids become unknown to later submissions.
func (s *Scheduler) recordTerminal(id string) {
	s.terminals = append(s.terminals, id)
	for len(s.terminals) > s.cfg.HistoryLimit {
		old := s.terminals[0]
		s.terminals = s.terminals[1:]
		s.table.Remove(old)
	}
}

func (s *Scheduler) checkDrained() {
	if s.draining && !s.drained && len(s.running) == 0 {
		s.drained = true
		close(s.drainDone)
	}
}

func (s *Scheduler) publishProgress(now time.Time) {
	terminal := len(s.terminals)
	s.metrics.SetGauge("queue_depth", nil, float64(s.queue.Len()))
	s.metrics.SetGauge("tasks_running", nil, float64(len(s.running)))
	s.metrics.SetGauge("tasks_delayed", nil, float64(len(s.delayed)))
	s.publish(events.TopicScheduler, events.ProgressEvent{
		Queued:    s.queue.Len(),
		Running:   len(s.running),
		Delayed:   len(s.delayed),
		Terminal:  terminal,
		Timestamp: now,
	})
}

func (s *Scheduler) publish(topic string, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, event)
	}
}

// persist is fire-and-forget: a storage failure is logged and never
// affects scheduling.
func (s *Scheduler) persist(t *Task) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTask(context.Background(), t.Clone()); err != nil {
		ctxlog.FromContext(s.rootCtx).Warn("persisting task failed",
			"task", t.ID, "error", err)
	}
}
