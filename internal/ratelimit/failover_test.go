package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverLimiter_UsesPrimaryWhenHealthy(t *testing.T) {
	primaryStore := NewMemoryStore(time.Hour)
	defer primaryStore.Close()
	fallbackStore := NewMemoryStore(time.Hour)
	defer fallbackStore.Close()

	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(primaryStore, DefaultPolicy()),
		NewSlidingWindowLimiter(fallbackStore, DefaultPolicy()),
		nil,
	)

	key := RateKey{Scope: "public", Subject: "A", Resource: "r1"}
	d, err := f.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, f.Degraded())
	assert.Equal(t, 0, fallbackStore.size())
	assert.Equal(t, 2, primaryStore.size())
}

func TestFailoverLimiter_SkipsUnhealthyPrimary(t *testing.T) {
	broken := &brokenStore{healthy: false}
	fallbackStore := NewMemoryStore(time.Hour)
	defer fallbackStore.Close()

	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(broken, DefaultPolicy()),
		NewSlidingWindowLimiter(fallbackStore, DefaultPolicy()),
		nil,
	)

	d, err := f.Allow(context.Background(), RateKey{Scope: "public", Subject: "A", Resource: "r1"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "memory", d.Backend)
	assert.Equal(t, 0, broken.calls, "an unhealthy primary is not probed per request")
	assert.True(t, f.Degraded())
	assert.Equal(t, "memory", f.ActiveBackend())
}

func TestFailoverLimiter_ReevaluatesOnFallbackAfterError(t *testing.T) {
	// Healthy flag still set, but the call itself fails.
	broken := &brokenStore{healthy: true}
	fallbackStore := NewMemoryStore(time.Hour)
	defer fallbackStore.Close()

	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(broken, Policy{PerMinute: 1, PerDay: 10}),
		NewSlidingWindowLimiter(fallbackStore, Policy{PerMinute: 1, PerDay: 10}),
		nil,
	)

	ctx := context.Background()
	key := RateKey{Scope: "public", Subject: "A", Resource: "r1"}

	d, err := f.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, broken.calls)

	d, err = f.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "the fallback enforces the same policy")
}

func TestFailoverLimiter_Recovers(t *testing.T) {
	toggle := &toggleStore{MemoryStore: NewMemoryStore(time.Hour)}
	defer toggle.Close()
	fallbackStore := NewMemoryStore(time.Hour)
	defer fallbackStore.Close()

	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(toggle, DefaultPolicy()),
		NewSlidingWindowLimiter(fallbackStore, DefaultPolicy()),
		nil,
	)
	ctx := context.Background()
	key := RateKey{Scope: "public", Subject: "A", Resource: "r1"}

	toggle.down = true
	_, err := f.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, f.Degraded())

	toggle.down = false
	d, err := f.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, f.Degraded())
	// The primary never saw the first request.
	assert.Equal(t, DefaultPolicy().PerMinute-1, d.Remaining)
}

func TestFailoverLimiter_Policy(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	policy := Policy{PerMinute: 7, PerDay: 70}
	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(store, policy),
		NewSlidingWindowLimiter(store, policy),
		nil,
	)
	assert.Equal(t, policy, f.Policy())
}

type toggleStore struct {
	*MemoryStore
	down bool
}

func (s *toggleStore) Healthy() bool { return !s.down }
func (s *toggleStore) Name() string  { return "toggle" }

func TestFailoverLimiter_ReportsUnhealthyPrimaryWithoutTraffic(t *testing.T) {
	toggle := &toggleStore{MemoryStore: NewMemoryStore(time.Hour)}
	defer toggle.Close()
	fallbackStore := NewMemoryStore(time.Hour)
	defer fallbackStore.Close()

	f := NewFailoverLimiter(
		NewSlidingWindowLimiter(toggle, DefaultPolicy()),
		NewSlidingWindowLimiter(fallbackStore, DefaultPolicy()),
		nil,
	)
	assert.False(t, f.Degraded())
	assert.Equal(t, toggle.Name(), f.ActiveBackend())

	// The health loop marks the primary down; no request has been served.
	toggle.down = true
	assert.True(t, f.Degraded())
	assert.Equal(t, "memory", f.ActiveBackend())

	toggle.down = false
	assert.False(t, f.Degraded())
}
