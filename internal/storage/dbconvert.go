package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

// marshalEvents converts event types to a JSON array string.
func marshalEvents(events []models.EventType) (string, error) {
	if events == nil {
		events = []models.EventType{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	return string(b), nil
}

// unmarshalEvents parses a JSON array string into event types.
func unmarshalEvents(data string) ([]models.EventType, error) {
	if data == "" {
		return []models.EventType{}, nil
	}
	var events []models.EventType
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if events == nil {
		events = []models.EventType{}
	}
	return events, nil
}

// eventsToText converts event types to a PostgreSQL text[] value.
func eventsToText(events []models.EventType) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

// textToEvents converts a PostgreSQL text[] value back to event types.
func textToEvents(values []string) []models.EventType {
	out := make([]models.EventType, len(values))
	for i, v := range values {
		out[i] = models.EventType(v)
	}
	return out
}

// sqliteTimeLayout keeps nine fractional digits so stored timestamps sort
// lexically in time order. RFC3339Nano trims trailing zeros and does not.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders a timestamp for SQLite TEXT columns.
func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseTime parses a SQLite TEXT timestamp. RFC3339Nano accepts both the
// fixed-width form and rows written with trimmed fractions.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// nullTime converts an optional timestamp to a nullable SQLite TEXT value.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseNullTime converts a nullable SQLite TEXT value to an optional timestamp.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
