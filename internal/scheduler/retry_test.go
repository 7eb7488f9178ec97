package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/chainsched/chainsched/internal/executor"
)

// TestRetryDelayDoubling tests that the delay for the k-th attempt is
// base * 2^(k-1) within the configured jitter bounds.
func TestRetryDelayDoubling(t *testing.T) {
	base := 100 * time.Millisecond
	jitter := 0.25
	p := NewRetryPolicy(RetryConfig{BaseDelay: base, MaxInterval: time.Hour, Jitter: jitter})

	for attempt := 1; attempt <= 6; attempt++ {
		expected := base * time.Duration(1<<(attempt-1))
		lo := time.Duration(float64(expected) * (1 - jitter))
		hi := time.Duration(float64(expected) * (1 + jitter))
		for i := 0; i < 50; i++ {
			got := p.NextDelay(attempt)
			if got < lo || got > hi {
				t.Fatalf("NextDelay(%d) = %v, want within [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestRetryDelayCapped(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{BaseDelay: time.Second, MaxInterval: 4 * time.Second, Jitter: 0})
	if got := p.NextDelay(10); got != 4*time.Second {
		t.Errorf("NextDelay(10) = %v, want cap %v", got, 4*time.Second)
	}
}

func TestRetryDelayNoJitterExact(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{BaseDelay: 50 * time.Millisecond, MaxInterval: time.Hour, Jitter: 0})
	want := []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Errorf("NextDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())
	transient := errors.New("rpc timeout")

	tests := []struct {
		name string
		task *Task
		err  error
		want bool
	}{
		{"attempts remain, transient", &Task{Attempts: 1, MaxAttempts: 3}, transient, true},
		{"attempts exhausted", &Task{Attempts: 3, MaxAttempts: 3}, transient, false},
		{"permanent error", &Task{Attempts: 1, MaxAttempts: 3}, executor.Permanent(errors.New("insufficient funds")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.task, tt.err); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}
