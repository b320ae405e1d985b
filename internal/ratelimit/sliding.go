package ratelimit

import (
	"context"
	"time"
)

// SlidingWindowLimiter enforces a Policy over a CounterStore. A request is
// checked against the short window, then the long window, and only recorded in
// both once it passes. Denied requests are never counted.
type SlidingWindowLimiter struct {
	store  CounterStore
	policy Policy
	now    func() time.Time
}

type SlidingOption func(*SlidingWindowLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SlidingOption {
	return func(l *SlidingWindowLimiter) { l.now = now }
}

func NewSlidingWindowLimiter(store CounterStore, policy Policy, opts ...SlidingOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow returns the store's error unchanged so callers can detect
// ErrStoreUnavailable.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key RateKey) (Decision, error) {
	now := l.now()
	k := key.String()

	short, err := l.store.CountOnly(ctx, k, ShortWindow, now)
	if err != nil {
		return Decision{}, err
	}
	if short.Count >= l.policy.PerMinute {
		return l.deny(WindowShort, l.policy.PerMinute, short.ResetAt(ShortWindow, now), now), nil
	}

	long, err := l.store.CountOnly(ctx, k, LongWindow, now)
	if err != nil {
		return Decision{}, err
	}
	if long.Count >= l.policy.PerDay {
		return l.deny(WindowLong, l.policy.PerDay, long.ResetAt(LongWindow, now), now), nil
	}

	counts, err := l.store.IncrementAndCount(ctx, k, now, ShortWindow, LongWindow)
	if err != nil {
		return Decision{}, err
	}
	shortAfter := counts[0]

	return Decision{
		Allowed:   true,
		Limit:     l.policy.PerMinute,
		Remaining: max(0, l.policy.PerMinute-shortAfter.Count),
		ResetAt:   shortAfter.ResetAt(ShortWindow, now),
		Backend:   l.store.Name(),
	}, nil
}

func (l *SlidingWindowLimiter) Policy() Policy { return l.policy }

// Healthy reports the liveness of the underlying store.
func (l *SlidingWindowLimiter) Healthy() bool { return l.store.Healthy() }

// Backend names the underlying store.
func (l *SlidingWindowLimiter) Backend() string { return l.store.Name() }

func (l *SlidingWindowLimiter) ActiveBackend() string { return l.store.Name() }

// Degraded is true while the single store reports itself unhealthy.
func (l *SlidingWindowLimiter) Degraded() bool { return !l.store.Healthy() }

func (l *SlidingWindowLimiter) deny(window WindowName, limit int, resetAt, now time.Time) Decision {
	retry := resetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
		Violated:   window,
		Backend:    l.store.Name(),
	}
}
