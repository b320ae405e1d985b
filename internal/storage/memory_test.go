package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

func TestMemoryStorage(t *testing.T) {
	storage, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	defer storage.Close()

	runStorageTests(t, storage)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	storage, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	ctx := context.Background()

	sub := newTestSubscription(t, "tenant-a", "agent-1", models.EventMessageReceived)
	require.NoError(t, storage.CreateSubscription(ctx, sub))

	// Mutating the caller's value must not leak into storage.
	sub.URL = "https://mutated.example.com"
	sub.Events[0] = models.EventErrorOccurred

	got, err := storage.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/agent-1", got.URL)
	assert.Equal(t, models.EventMessageReceived, got.Events[0])

	got.Active = false
	again, err := storage.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, again.Active)
}

func TestMemoryStorage_DuplicateID(t *testing.T) {
	storage, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	ctx := context.Background()

	sub := newTestSubscription(t, "tenant-a", "agent-1", models.EventMessageReceived)
	require.NoError(t, storage.CreateSubscription(ctx, sub))
	assert.Error(t, storage.CreateSubscription(ctx, sub))
}
