package scheduler

import (
	"context"
	"time"

	"github.com/chainsched/chainsched/internal/ctxlog"
)

// SignalFunc reads the current value of an external condition signal,
// e.g. the network base fee in gwei. Polled, never pushed.
type SignalFunc func(ctx context.Context) (float64, error)

// Gate withholds dispatch of gate-sensitive tasks while an external
// signal sits above a configured ceiling. A closed gate is not a
// failure: affected tasks stay queued and are reconsidered on the next
// dispatch tick.
type Gate struct {
	source   SignalFunc
	ceiling  float64
	interval time.Duration

	lastPoll time.Time
	lastVal  float64
	open     bool
	polled   bool
}

// NewGate creates a gate over the given signal source. The gate is open
// whenever the signal is at or below ceiling. interval bounds how often
// the source is polled; defaults to 5s.
func NewGate(source SignalFunc, ceiling float64, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Gate{source: source, ceiling: ceiling, interval: interval}
}

// Allows reports whether gate-sensitive dispatch may proceed right now,
// refreshing the cached signal when stale. A nil gate always allows.
// Until the first successful poll the gate stays closed; on poll errors
// it holds its previous state rather than flapping.
func (g *Gate) Allows(ctx context.Context, now time.Time) bool {
	if g == nil {
		return true
	}
	if g.polled && now.Sub(g.lastPoll) < g.interval {
		return g.open
	}
	val, err := g.source(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("gate signal poll failed", "error", err)
		g.lastPoll = now
		return g.open
	}
	g.polled = true
	g.lastPoll = now
	g.lastVal = val
	g.open = val <= g.ceiling
	return g.open
}

// Signal returns the most recently polled value and whether any poll has
// succeeded yet.
func (g *Gate) Signal() (float64, bool) {
	if g == nil {
		return 0, false
	}
	return g.lastVal, g.polled
}
