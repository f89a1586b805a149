package pulling

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Token is an opaque, idempotent-release-safe capacity grant from
// PriorityRateLimiter.Acquire. Releasing a token twice is a no-op;
// releasing one that didn't come from this limiter is a ProgrammingError.
type Token struct {
	owner    *PriorityRateLimiter
	priority Priority
	released bool
}

// RateLimitConfig sets the independent concurrency cap for each
// priority class. Each class gets its own semaphore.Weighted so
// contention on low-priority classes can never block higher ones — this
// is isolation by construction, not by queue-jumping within a shared
// pool.
type RateLimitConfig struct {
	Capacity [numPriorities]int64
}

// DefaultRateLimitConfig returns a config whose capacity doubles with
// each priority class, from 4 (Lowest) to 64 (Highest). Callers in
// production tune per class.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Capacity: [numPriorities]int64{
			Lowest:  4,
			Low:     8,
			Medium:  16,
			High:    32,
			Highest: 64,
		},
	}
}

// PriorityRateLimiter gates dispatch with one capacity pool per priority
// class. Within a class, semaphore.Weighted serves waiters FIFO.
type PriorityRateLimiter struct {
	mu   sync.Mutex
	sems [numPriorities]*semaphore.Weighted
}

// NewPriorityRateLimiter builds a limiter from the given capacities.
func NewPriorityRateLimiter(cfg RateLimitConfig) *PriorityRateLimiter {
	l := &PriorityRateLimiter{}
	for p := 0; p < numPriorities; p++ {
		n := cfg.Capacity[p]
		if n <= 0 {
			n = 1
		}
		l.sems[p] = semaphore.NewWeighted(n)
	}
	return l
}

// Acquire blocks (cooperatively, via ctx) until a slot is available for
// the given priority, then returns a Token. Cancelling ctx unblocks the
// wait without consuming a slot.
func (l *PriorityRateLimiter) Acquire(ctx context.Context, priority Priority) (*Token, error) {
	if err := l.sems[priority].Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Token{owner: l, priority: priority}, nil
}

// Release returns the token's capacity to its class pool. Safe to call
// more than once; the second and later calls are no-ops. Releasing a
// token that did not originate from this limiter instance is a
// ProgrammingError the caller must not swallow.
func (l *PriorityRateLimiter) Release(tok *Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tok == nil {
		return &ProgrammingError{Msg: "release of nil rate-limit token"}
	}
	if tok.owner != l {
		return &ProgrammingError{Msg: "release of rate-limit token from a foreign limiter"}
	}
	if tok.released {
		return nil
	}
	tok.released = true
	l.sems[tok.priority].Release(1)
	return nil
}
