package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu            sync.RWMutex
	subscriptions map[string]*models.Subscription
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		subscriptions: make(map[string]*models.Subscription),
	}, nil
}

// CreateSubscription stores a copy of sub.
func (m *MemoryStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

// GetSubscription retrieves a subscription by its ID
func (m *MemoryStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

// ListSubscriptions returns copies of the owner's subscriptions for an agent.
func (m *MemoryStorage) ListSubscriptions(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Subscription, 0)
	for _, sub := range m.subscriptions {
		if sub.OwnerID == ownerID && sub.AgentID == agentID {
			result = append(result, copySubscription(sub))
		}
	}
	sortByCreated(result)
	return result, nil
}

// ListActiveSubscriptions returns the agent's active subscriptions for event.
func (m *MemoryStorage) ListActiveSubscriptions(ctx context.Context, agentID string, event models.EventType) ([]*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Subscription, 0)
	for _, sub := range m.subscriptions {
		if sub.AgentID == agentID && sub.Matches(event) {
			result = append(result, copySubscription(sub))
		}
	}
	sortByCreated(result)
	return result, nil
}

// UpdateSubscription replaces the owner-editable fields.
func (m *MemoryStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.subscriptions[sub.ID]
	if !exists {
		return ErrNotFound
	}
	existing.URL = sub.URL
	existing.Events = slices.Clone(sub.Events)
	existing.Active = sub.Active
	existing.UpdatedAt = sub.UpdatedAt
	return nil
}

// DeleteSubscription removes a subscription by its ID
func (m *MemoryStorage) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return ErrNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

// RecordDelivery updates delivery health under the write lock.
func (m *MemoryStorage) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return ErrNotFound
	}
	t := at.UTC()
	sub.LastTriggeredAt = &t
	if success {
		sub.FailureCount = 0
	} else {
		sub.FailureCount++
	}
	return nil
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close closes the storage (no-op for memory storage)
func (m *MemoryStorage) Close() error {
	return nil
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	c := *sub
	c.Events = slices.Clone(sub.Events)
	if sub.LastTriggeredAt != nil {
		t := *sub.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}

func sortByCreated(subs []*models.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}
