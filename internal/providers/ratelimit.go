package providers

import (
	"sync"
	"time"
)

const (
	rateLimitInitialDelay = time.Second
	rateLimitMaxDelay     = 30 * time.Second
)

// limiterState is the per-provider backoff state. The limiter is reactive:
// it stays dormant until a provider answers 429, then doubles its delay per
// consecutive 429 (1s, 2s, 4s, 8s, capped at 30s) and resets on the next
// success.
type limiterState struct {
	delay     time.Duration
	waitUntil time.Time
}

func limiterOnRateLimited(state limiterState, retryAfter time.Duration, now time.Time) limiterState {
	delay := state.delay
	if delay == 0 {
		delay = rateLimitInitialDelay
	} else {
		delay *= 2
	}
	if delay > rateLimitMaxDelay {
		delay = rateLimitMaxDelay
	}
	// A server-provided Retry-After overrides the computed backoff when it
	// asks for a longer wait.
	wait := delay
	if retryAfter > wait {
		wait = retryAfter
		if wait > rateLimitMaxDelay {
			wait = rateLimitMaxDelay
		}
	}
	return limiterState{delay: delay, waitUntil: now.Add(wait)}
}

// RateLimiter tracks reactive backoff per provider name.
type RateLimiter struct {
	now func() time.Time

	mu     sync.Mutex
	states map[string]limiterState
}

// NewRateLimiter returns a dormant reactive rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		now:    func() time.Time { return time.Now().UTC() },
		states: make(map[string]limiterState),
	}
}

// SetClock overrides the limiter's time source (used in tests).
func (r *RateLimiter) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Delay returns how long a caller must wait before contacting the named
// provider; zero when no backoff is active.
func (r *RateLimiter) Delay(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.states[name].waitUntil.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordRateLimited escalates the named provider's backoff after a 429.
func (r *RateLimiter) RecordRateLimited(name string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[name] = limiterOnRateLimited(r.states[name], retryAfter, r.now())
}

// RecordSuccess resets the named provider's backoff.
func (r *RateLimiter) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, name)
}
