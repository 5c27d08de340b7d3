package providers

import (
	"testing"
	"time"
)

func TestRateLimiterEscalatesAndResets(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.SetClock(func() time.Time { return current })

	if limiter.Delay("artdb") != 0 {
		t.Fatal("limiter should be dormant before any 429")
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second, // capped
	}
	for i, want := range expected {
		limiter.RecordRateLimited("artdb", 0)
		if got := limiter.Delay("artdb"); got != want {
			t.Fatalf("step %d: expected delay %s, got %s", i, want, got)
		}
	}

	limiter.RecordSuccess("artdb")
	if limiter.Delay("artdb") != 0 {
		t.Fatal("success should reset the backoff")
	}
	limiter.RecordRateLimited("artdb", 0)
	if got := limiter.Delay("artdb"); got != time.Second {
		t.Fatalf("expected backoff to restart at 1s, got %s", got)
	}
}

func TestRateLimiterHonorsRetryAfter(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.SetClock(func() time.Time { return current })

	limiter.RecordRateLimited("artdb", 10*time.Second)
	if got := limiter.Delay("artdb"); got != 10*time.Second {
		t.Fatalf("expected Retry-After to win over 1s backoff, got %s", got)
	}

	// A Retry-After shorter than the computed backoff does not shrink it.
	limiter.RecordRateLimited("artdb", time.Millisecond)
	if got := limiter.Delay("artdb"); got != 2*time.Second {
		t.Fatalf("expected computed 2s backoff, got %s", got)
	}
}

func TestRateLimiterDelayDecaysWithTime(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter()
	limiter.SetClock(func() time.Time { return current })

	limiter.RecordRateLimited("artdb", 0)
	current = current.Add(400 * time.Millisecond)
	if got := limiter.Delay("artdb"); got != 600*time.Millisecond {
		t.Fatalf("expected 600ms remaining, got %s", got)
	}
	current = current.Add(time.Second)
	if got := limiter.Delay("artdb"); got != 0 {
		t.Fatalf("expected expired backoff, got %s", got)
	}
}
