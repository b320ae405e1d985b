package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	agent_id          TEXT NOT NULL,
	url               TEXT NOT NULL,
	events            TEXT NOT NULL,
	secret            TEXT NOT NULL,
	active            INTEGER NOT NULL DEFAULT 1,
	last_triggered_at TEXT,
	failure_count     INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_agent
	ON webhook_subscriptions (agent_id, owner_id);
`

const sqliteColumns = `id, owner_id, agent_id, url, events, secret, active,
	last_triggered_at, failure_count, created_at, updated_at`

// SQLiteStorage stores subscriptions in a SQLite database through the pure-Go
// modernc.org/sqlite driver.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under
	// concurrent delivery recording and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// CreateSubscription inserts a new subscription row.
func (ss *SQLiteStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, err := marshalEvents(sub.Events)
	if err != nil {
		return err
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OwnerID, sub.AgentID, sub.URL, events, sub.Secret, sub.Active,
		nullTime(sub.LastTriggeredAt), sub.FailureCount,
		formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by its ID.
func (ss *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM webhook_subscriptions WHERE id = ?`, id)

	sub, err := scanSQLiteSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns the owner's subscriptions for an agent.
func (ss *SQLiteStorage) ListSubscriptions(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+` FROM webhook_subscriptions
		WHERE owner_id = ? AND agent_id = ?
		ORDER BY created_at, id`, ownerID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collectSQLiteSubscriptions(rows, nil)
}

// ListActiveSubscriptions returns active subscriptions of an agent for event.
// Events are stored as a JSON array, so matching happens after the scan.
func (ss *SQLiteStorage) ListActiveSubscriptions(ctx context.Context, agentID string, event models.EventType) ([]*models.Subscription, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+` FROM webhook_subscriptions
		WHERE agent_id = ? AND active = 1
		ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return collectSQLiteSubscriptions(rows, func(s *models.Subscription) bool {
		return s.Matches(event)
	})
}

// UpdateSubscription replaces the owner-editable fields.
func (ss *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, err := marshalEvents(sub.Events)
	if err != nil {
		return err
	}

	res, err := ss.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET url = ?, events = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		sub.URL, events, sub.Active, formatTime(sub.UpdatedAt), sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireAffected(res)
}

// DeleteSubscription removes a subscription.
func (ss *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", id, err)
	}
	return requireAffected(res)
}

// RecordDelivery updates delivery health in a single statement.
func (ss *SQLiteStorage) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	res, err := ss.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = CASE WHEN ? THEN 0 ELSE failure_count + 1 END,
		    last_triggered_at = ?
		WHERE id = ?`,
		success, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return requireAffected(res)
}

// Ping checks the database connection.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub                  models.Subscription
		events               string
		lastTriggered        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.AgentID, &sub.URL, &events, &sub.Secret,
		&sub.Active, &lastTriggered, &sub.FailureCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if sub.Events, err = unmarshalEvents(events); err != nil {
		return nil, err
	}
	if sub.LastTriggeredAt, err = parseNullTime(lastTriggered); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSQLiteSubscriptions(rows *sql.Rows, keep func(*models.Subscription) bool) ([]*models.Subscription, error) {
	defer rows.Close()

	result := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSQLiteSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if keep == nil || keep(sub) {
			result = append(result, sub)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return result, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
