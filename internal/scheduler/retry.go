package scheduler

import (
	"math/rand"
	"time"

	"github.com/chainsched/chainsched/internal/executor"
)

// RetryConfig configures exponential backoff between execution attempts.
type RetryConfig struct {
	BaseDelay   time.Duration // Delay after the first failed attempt (default 2s)
	MaxInterval time.Duration // Cap on the computed delay (default 2min)
	Jitter      float64       // Randomization factor in [0, 1): delay * [1-j, 1+j]
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:   2 * time.Second,
		MaxInterval: 2 * time.Minute,
		Jitter:      0.2,
	}
}

// RetryPolicy decides whether and when a failed task is resubmitted.
// Delay after the k-th attempt is BaseDelay * 2^(k-1), capped at
// MaxInterval, with bounded jitter. The jitter semantics match
// cenkalti/backoff's randomization factor so operators can reason about
// both retry layers the same way.
type RetryPolicy struct {
	cfg RetryConfig
	rng *rand.Rand
}

// NewRetryPolicy creates a policy from cfg, filling in defaults for
// unset fields.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	return &RetryPolicy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShouldRetry reports whether a task that just failed with err gets
// another attempt.
func (p *RetryPolicy) ShouldRetry(t *Task, err error) bool {
	if !executor.IsRetryable(err) {
		return false
	}
	return t.Attempts < t.MaxAttempts
}

// NextDelay computes the backoff delay after the given (1-based) attempt
// number failed.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.MaxInterval {
			delay = p.cfg.MaxInterval
			break
		}
	}
	if p.cfg.Jitter > 0 {
		// Uniform in [delay*(1-j), delay*(1+j)].
		spread := float64(delay) * p.cfg.Jitter
		delay = time.Duration(float64(delay) - spread + p.rng.Float64()*2*spread)
	}
	return delay
}
