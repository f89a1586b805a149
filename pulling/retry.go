package pulling

import (
	"math/rand"
	"time"

	"github.com/joeycumines/go-catrate"
)

// RetryDecisionKind distinguishes the two RetryDecision outcomes.
type RetryDecisionKind int

const (
	GiveUp RetryDecisionKind = iota
	RetryAfter
)

// RetryDecision is what RetryPolicy.Decide returns: either give up, or
// retry after the given duration.
type RetryDecision struct {
	Kind  RetryDecisionKind
	After time.Duration
}

// RetryPolicy is a pure function of (attemptCount, lastError, request)
// plus one piece of internal state: a rolling failure rate per
// fingerprint, used to widen backoff when a given feed is failing
// unusually often even within its own per-attempt cap. 4xx responses
// always give up; 5xx and transport errors retry up to MaxAttempts
// with exponential backoff and jitter.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      time.Duration

	// failureRates tracks, per fingerprint, how many failures have
	// landed in recent sliding windows, via go-catrate's multi-window
	// per-category rate limiter: here the "category" is the fingerprint
	// and "disallowed" means the fingerprint has failed unusually often
	// recently, which widens the next backoff beyond plain
	// exponential-with-jitter.
	failureRates *catrate.Limiter
}

// DefaultRetryPolicy returns exponential backoff [50ms, 150ms, 450ms,
// ...] capped at 5s, a hard cap of 3 attempts, and a failure-rate
// tracker that widens backoff once a fingerprint logs more than 5
// failures within a minute.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
		Jitter:      25 * time.Millisecond,
		failureRates: catrate.NewLimiter(map[time.Duration]int{
			time.Minute: 5,
		}),
	}
}

// Decide computes the next action for a failed attempt. attemptCount is
// the number of attempts made so far (including the one that just
// failed); fingerprint identifies the feed for failure-rate tracking.
func (p *RetryPolicy) Decide(fingerprint string, attemptCount int, err error) RetryDecision {
	if statusErr, ok := err.(*HttpStatusError); ok && statusErr.IsClientError() {
		return RetryDecision{Kind: GiveUp}
	}

	if p.MaxAttempts > 0 && attemptCount >= p.MaxAttempts {
		return RetryDecision{Kind: GiveUp}
	}

	delay := p.backoffFor(attemptCount)

	if p.failureRates != nil {
		if _, allowed := p.failureRates.Allow(fingerprint); !allowed {
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return RetryDecision{Kind: RetryAfter, After: delay}
}

func (p *RetryPolicy) backoffFor(attemptCount int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attemptCount; i++ {
		delay *= 3
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
	}
	return delay
}
