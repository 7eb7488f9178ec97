package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/chainsched/chainsched/internal/ctxlog"
)

// RPCRetryConfig configures the in-attempt retry loop around a single
// executor call. This layer smooths over sub-second RPC blips inside one
// scheduler attempt; the scheduler's own retry policy handles the
// longer-horizon attempts.
type RPCRetryConfig struct {
	InitialInterval     time.Duration // default 100ms
	MaxInterval         time.Duration // default 10s
	MaxElapsedTime      time.Duration // default 30s
	Multiplier          float64       // default 2.0
	RandomizationFactor float64       // default 0.5
}

// DefaultRPCRetryConfig returns the default in-attempt retry configuration.
func DefaultRPCRetryConfig() RPCRetryConfig {
	return RPCRetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Resilient wraps an executor with a circuit breaker and in-attempt
// exponential backoff. A protocol whose endpoint is down trips its
// breaker after consecutive failures; while the breaker is open every
// call fails fast with a retryable error, so affected tasks fall back to
// the scheduler's delayed-retry path instead of hammering the endpoint.
type Resilient struct {
	inner    Executor
	breaker  *gobreaker.CircuitBreaker
	retryCfg RPCRetryConfig
}

// NewResilient wraps inner for the named protocol.
func NewResilient(protocol string, inner Executor, retryCfg RPCRetryConfig) *Resilient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        protocol,
		MaxRequests: 3,                // Test requests allowed in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			ctxlog.FromContext(context.Background()).Warn("circuit breaker state change",
				"protocol", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller cancellations and permanent task errors say nothing
			// about endpoint health.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return !IsRetryable(err)
		},
	})
	return &Resilient{inner: inner, breaker: cb, retryCfg: retryCfg}
}

// Execute runs one attempt through the breaker with backoff on transient
// errors. Permanent errors and open-breaker states stop the backoff loop
// immediately.
func (r *Resilient) Execute(ctx context.Context, req Request) (Result, error) {
	var result Result

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.inner.Execute(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		result = out.(Result)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryCfg.InitialInterval
	policy.MaxInterval = r.retryCfg.MaxInterval
	policy.MaxElapsedTime = r.retryCfg.MaxElapsedTime
	policy.Multiplier = r.retryCfg.Multiplier
	policy.RandomizationFactor = r.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return result, err
}
