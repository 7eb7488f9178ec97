// Package executor defines the interface between the scheduler and the
// per-protocol execution logic, plus the error taxonomy for execution
// failures. How a bridge or swap is actually constructed and submitted
// lives behind the Executor interface; the scheduler only bounds attempts
// and idempotency is the executor's responsibility.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// Request carries one task to an executor. Params are forwarded verbatim
// from submission; the scheduler never interprets them.
type Request struct {
	TaskID   string
	Protocol string
	Action   string
	Params   map[string]any
	Attempt  int // 1-based attempt number, for executor-side logging
}

// Result is the outcome of a successful execution.
type Result struct {
	Output string
}

// Executor performs the protocol-specific operation for a task. May be
// slow, may fail transiently, and must be safely callable repeatedly for
// the same task id across retries.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps protocol names to executors. Registration happens at
// startup before the scheduler runs, so lookups are read-only and need
// no locking.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register maps a protocol to an executor, replacing any previous entry.
func (r *Registry) Register(protocol string, e Executor) {
	r.executors[protocol] = e
}

// Lookup returns the executor for a protocol. A missing executor is a
// permanent error: retrying cannot conjure one up.
func (r *Registry) Lookup(protocol string) (Executor, error) {
	e, ok := r.executors[protocol]
	if !ok {
		return nil, Permanent(fmt.Errorf("no executor registered for protocol %q", protocol))
	}
	return e, nil
}

// Protocols returns the registered protocol names.
func (r *Registry) Protocols() []string {
	out := make([]string, 0, len(r.executors))
	for p := range r.executors {
		out = append(out, p)
	}
	return out
}

// permanentError marks an execution error that retrying cannot fix:
// malformed params, insufficient funds, a reverted transaction.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the scheduler fails the task terminally instead
// of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable classifies an execution error. Unknown errors default to
// retryable: most executor failures are transient RPC or network faults.
// Timeouts are retryable too; the underlying operation may still have
// landed, which is exactly why executors must be idempotent per task id.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
