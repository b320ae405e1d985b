package storage

import (
	"context"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

// Storage defines the persistence contract for webhook subscriptions. It is
// implemented by an in-memory map, SQLite and PostgreSQL. Every method must be
// safe for concurrent use: the dispatcher records deliveries from many
// goroutines while the registry API mutates the same rows.
type Storage interface {
	// CreateSubscription inserts a new subscription.
	CreateSubscription(ctx context.Context, sub *models.Subscription) error

	// GetSubscription returns the subscription with the given id or ErrNotFound.
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)

	// ListSubscriptions returns the owner's subscriptions for one agent,
	// oldest first.
	ListSubscriptions(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error)

	// ListActiveSubscriptions returns active subscriptions of an agent that
	// include the event type, regardless of owner.
	ListActiveSubscriptions(ctx context.Context, agentID string, event models.EventType) ([]*models.Subscription, error)

	// UpdateSubscription replaces URL, events, active flag and updated_at.
	// Delivery health fields are left untouched.
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error

	// DeleteSubscription removes a subscription or returns ErrNotFound.
	DeleteSubscription(ctx context.Context, id string) error

	// RecordDelivery sets last_triggered_at and either resets the failure
	// count (success) or increments it, as one atomic step.
	RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, postgres, sqlite)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
