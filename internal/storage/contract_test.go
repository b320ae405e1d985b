package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

func newTestSubscription(t *testing.T, owner, agent string, events ...models.EventType) *models.Subscription {
	t.Helper()
	sub, err := models.NewSubscription(owner, agent, "https://hooks.example.com/"+agent, events)
	require.NoError(t, err)
	// Databases keep microsecond precision at best.
	sub.CreatedAt = sub.CreatedAt.Truncate(time.Millisecond)
	sub.UpdatedAt = sub.CreatedAt
	return sub
}

// runStorageTests exercises the Storage contract against any backend.
func runStorageTests(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		sub := newTestSubscription(t, "tenant-a", "agent-get", models.EventMessageReceived, models.EventErrorOccurred)
		require.NoError(t, s.CreateSubscription(ctx, sub))

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, "tenant-a", got.OwnerID)
		assert.Equal(t, "agent-get", got.AgentID)
		assert.Equal(t, sub.URL, got.URL)
		assert.Equal(t, sub.Events, got.Events)
		assert.Equal(t, sub.Secret, got.Secret)
		assert.True(t, got.Active)
		assert.Nil(t, got.LastTriggeredAt)
		assert.Equal(t, 0, got.FailureCount)
		assert.True(t, sub.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := s.GetSubscription(ctx, "does-not-exist")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("list filters by owner and agent", func(t *testing.T) {
		first := newTestSubscription(t, "tenant-a", "agent-list", models.EventMessageReceived)
		second := newTestSubscription(t, "tenant-a", "agent-list", models.EventEscalationRaised)
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		other := newTestSubscription(t, "tenant-b", "agent-list", models.EventMessageReceived)
		elsewhere := newTestSubscription(t, "tenant-a", "agent-other", models.EventMessageReceived)
		for _, sub := range []*models.Subscription{second, first, other, elsewhere} {
			require.NoError(t, s.CreateSubscription(ctx, sub))
		}

		subs, err := s.ListSubscriptions(ctx, "tenant-a", "agent-list")
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, first.ID, subs[0].ID)
		assert.Equal(t, second.ID, subs[1].ID)

		none, err := s.ListSubscriptions(ctx, "tenant-c", "agent-list")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("list active matches event", func(t *testing.T) {
		wants := newTestSubscription(t, "tenant-a", "agent-active", models.EventMessageReceived)
		otherEvent := newTestSubscription(t, "tenant-a", "agent-active", models.EventConversationStarted)
		inactive := newTestSubscription(t, "tenant-b", "agent-active", models.EventMessageReceived)
		inactive.Active = false
		foreignOwner := newTestSubscription(t, "tenant-b", "agent-active", models.EventMessageReceived)
		foreignOwner.CreatedAt = wants.CreatedAt.Add(time.Second)
		for _, sub := range []*models.Subscription{wants, otherEvent, inactive, foreignOwner} {
			require.NoError(t, s.CreateSubscription(ctx, sub))
		}

		subs, err := s.ListActiveSubscriptions(ctx, "agent-active", models.EventMessageReceived)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, wants.ID, subs[0].ID)
		assert.Equal(t, foreignOwner.ID, subs[1].ID)
		assert.NotEmpty(t, subs[0].Secret, "the dispatcher needs the secret")

		subs, err = s.ListActiveSubscriptions(ctx, "agent-active", models.EventErrorOccurred)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("update", func(t *testing.T) {
		sub := newTestSubscription(t, "tenant-a", "agent-update", models.EventMessageReceived)
		require.NoError(t, s.CreateSubscription(ctx, sub))
		require.NoError(t, s.RecordDelivery(ctx, sub.ID, false, time.Now()))

		sub.URL = "https://hooks.example.com/changed"
		sub.Events = []models.EventType{models.EventEscalationRaised}
		sub.Active = false
		sub.UpdatedAt = sub.CreatedAt.Add(time.Minute)
		require.NoError(t, s.UpdateSubscription(ctx, sub))

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com/changed", got.URL)
		assert.Equal(t, []models.EventType{models.EventEscalationRaised}, got.Events)
		assert.False(t, got.Active)
		assert.True(t, sub.UpdatedAt.Equal(got.UpdatedAt))
		assert.Equal(t, 1, got.FailureCount, "update must not touch delivery health")

		missing := newTestSubscription(t, "tenant-a", "agent-update")
		assert.True(t, errors.Is(s.UpdateSubscription(ctx, missing), ErrNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		sub := newTestSubscription(t, "tenant-a", "agent-delete", models.EventMessageReceived)
		require.NoError(t, s.CreateSubscription(ctx, sub))

		require.NoError(t, s.DeleteSubscription(ctx, sub.ID))
		_, err := s.GetSubscription(ctx, sub.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.DeleteSubscription(ctx, sub.ID), ErrNotFound))
	})

	t.Run("record delivery", func(t *testing.T) {
		sub := newTestSubscription(t, "tenant-a", "agent-health", models.EventMessageReceived)
		require.NoError(t, s.CreateSubscription(ctx, sub))

		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.RecordDelivery(ctx, sub.ID, false, at))
		require.NoError(t, s.RecordDelivery(ctx, sub.ID, false, at.Add(time.Second)))

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.FailureCount)
		require.NotNil(t, got.LastTriggeredAt)
		assert.True(t, at.Add(time.Second).Equal(*got.LastTriggeredAt))

		require.NoError(t, s.RecordDelivery(ctx, sub.ID, true, at.Add(2*time.Second)))
		got, err = s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.FailureCount)
		assert.True(t, at.Add(2*time.Second).Equal(*got.LastTriggeredAt))

		assert.True(t, errors.Is(s.RecordDelivery(ctx, "does-not-exist", true, at), ErrNotFound))
	})

	t.Run("concurrent failures are not lost", func(t *testing.T) {
		sub := newTestSubscription(t, "tenant-a", "agent-concurrent", models.EventMessageReceived)
		require.NoError(t, s.CreateSubscription(ctx, sub))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.RecordDelivery(ctx, sub.ID, false, time.Now()))
			}()
		}
		wg.Wait()

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, got.FailureCount)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
