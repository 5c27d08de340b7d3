package providers

import (
	"sync"
	"time"
)

// BreakerState is the per-provider circuit state, advanced by pure
// transition functions so tests can drive it with a fixed clock.
type BreakerState struct {
	ConsecutiveFailures int
	OpenUntil           time.Time
}

// breakerAllow reports whether a call may proceed. An open circuit admits a
// single probe once the cooldown has elapsed (half-open).
func breakerAllow(state BreakerState, now time.Time) bool {
	return !now.Before(state.OpenUntil)
}

// breakerOnSuccess closes the circuit.
func breakerOnSuccess() BreakerState {
	return BreakerState{}
}

// breakerOnFailure counts a failure and opens the circuit once the threshold
// is reached.
func breakerOnFailure(state BreakerState, threshold int, cooldown time.Duration, now time.Time) BreakerState {
	next := BreakerState{ConsecutiveFailures: state.ConsecutiveFailures + 1}
	if next.ConsecutiveFailures >= threshold {
		next.OpenUntil = now.Add(cooldown)
	}
	return next
}

// Breaker tracks one circuit per provider name.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]BreakerState
}

// NewBreaker returns a breaker that opens after threshold consecutive
// failures and half-opens after cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       func() time.Time { return time.Now().UTC() },
		states:    make(map[string]BreakerState),
	}
}

// SetClock overrides the breaker's time source (used in tests).
func (b *Breaker) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// Allow reports whether a call to the named provider may proceed.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return breakerAllow(b.states[name], b.now())
}

// RecordSuccess closes the named provider's circuit.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[name] = breakerOnSuccess()
}

// RecordFailure counts a failure against the named provider.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[name] = breakerOnFailure(b.states[name], b.threshold, b.cooldown, b.now())
}

// State returns a copy of the named provider's circuit state.
func (b *Breaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[name]
}
