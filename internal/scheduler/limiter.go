package scheduler

import "golang.org/x/sync/semaphore"

// AcquireResult reports the outcome of a permit acquisition attempt.
type AcquireResult int

const (
	Acquired     AcquireResult = iota // Permit granted
	GlobalBusy                        // Global capacity exhausted
	ProtocolBusy                      // Per-protocol capacity exhausted
)

// Limiter caps simultaneously running tasks at a global maximum and,
// where configured, a per-protocol maximum. Built on weighted semaphores
// so executor goroutines can release permits without touching scheduler
// state.
type Limiter struct {
	global   *semaphore.Weighted
	limits   map[string]int64
	perProto map[string]*semaphore.Weighted
}

// NewLimiter creates a limiter with the given global capacity and
// optional per-protocol capacities. A global capacity <= 0 defaults to 4,
// matching the scheduler's default executor pool.
func NewLimiter(global int64, perProtocol map[string]int64) *Limiter {
	if global <= 0 {
		global = 4
	}
	l := &Limiter{
		global:   semaphore.NewWeighted(global),
		limits:   make(map[string]int64, len(perProtocol)),
		perProto: make(map[string]*semaphore.Weighted, len(perProtocol)),
	}
	for proto, n := range perProtocol {
		if n <= 0 {
			continue
		}
		l.limits[proto] = n
		l.perProto[proto] = semaphore.NewWeighted(n)
	}
	return l
}

// TryAcquire attempts to take one global permit plus one per-protocol
// permit when the protocol is capped. Never blocks. The global permit is
// handed back if the protocol slot is unavailable, so a saturated
// protocol cannot starve the rest of the queue.
func (l *Limiter) TryAcquire(protocol string) AcquireResult {
	if !l.global.TryAcquire(1) {
		return GlobalBusy
	}
	sem, capped := l.perProto[protocol]
	if !capped {
		return Acquired
	}
	if !sem.TryAcquire(1) {
		l.global.Release(1)
		return ProtocolBusy
	}
	return Acquired
}

// Release returns the permits taken for one task. Must be called exactly
// once per successful TryAcquire, when the task reaches a terminal state.
func (l *Limiter) Release(protocol string) {
	if sem, capped := l.perProto[protocol]; capped {
		sem.Release(1)
	}
	l.global.Release(1)
}
