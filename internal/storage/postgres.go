package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	agent_id          TEXT NOT NULL,
	url               TEXT NOT NULL,
	events            TEXT[] NOT NULL,
	secret            TEXT NOT NULL,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	last_triggered_at TIMESTAMPTZ,
	failure_count     INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_agent
	ON webhook_subscriptions (agent_id, owner_id);
`

const postgresColumns = `id, owner_id, agent_id, url, events, secret, active,
	last_triggered_at, failure_count, created_at, updated_at`

// PostgresStorage implements the Storage interface using PostgreSQL through a
// pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures the
// schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// CreateSubscription inserts a new subscription row.
func (ps *PostgresStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (`+postgresColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.OwnerID, sub.AgentID, sub.URL, eventsToText(sub.Events), sub.Secret,
		sub.Active, sub.LastTriggeredAt, sub.FailureCount, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by its ID.
func (ps *PostgresStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM webhook_subscriptions WHERE id = $1`, id)

	sub, err := scanPostgresSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns the owner's subscriptions for an agent.
func (ps *PostgresStorage) ListSubscriptions(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT `+postgresColumns+` FROM webhook_subscriptions
		WHERE owner_id = $1 AND agent_id = $2
		ORDER BY created_at, id`, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collectPostgresSubscriptions(rows)
}

// ListActiveSubscriptions returns active subscriptions of an agent for event.
func (ps *PostgresStorage) ListActiveSubscriptions(ctx context.Context, agentID string, event models.EventType) ([]*models.Subscription, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT `+postgresColumns+` FROM webhook_subscriptions
		WHERE agent_id = $1 AND active AND $2 = ANY(events)
		ORDER BY created_at, id`, agentID, string(event))
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return collectPostgresSubscriptions(rows)
}

// UpdateSubscription replaces the owner-editable fields.
func (ps *PostgresStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET url = $2, events = $3, active = $4, updated_at = $5
		WHERE id = $1`,
		sub.ID, sub.URL, eventsToText(sub.Events), sub.Active, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (ps *PostgresStorage) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery updates delivery health in a single statement.
func (ps *PostgresStorage) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	tag, err := ps.pool.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = CASE WHEN $2 THEN 0 ELSE failure_count + 1 END,
		    last_triggered_at = $3
		WHERE id = $1`,
		id, success, at)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the pool can reach the server.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func scanPostgresSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		sub    models.Subscription
		events []string
	)
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.AgentID, &sub.URL, &events, &sub.Secret,
		&sub.Active, &sub.LastTriggeredAt, &sub.FailureCount, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Events = textToEvents(events)
	return &sub, nil
}

func collectPostgresSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	defer rows.Close()

	result := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanPostgresSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return result, nil
}
