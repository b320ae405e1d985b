package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned by a CounterStore that cannot answer. It is
// distinct from an empty window so callers can fail over instead of treating
// the key as never seen.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// WindowCount is the state of one key's window after pruning.
type WindowCount struct {
	Count  int
	Oldest time.Time // Zero when the window is empty
}

// ResetAt returns when the oldest entry leaves the window. An empty window
// resets one full window from now.
func (w WindowCount) ResetAt(window time.Duration, now time.Time) time.Time {
	if w.Oldest.IsZero() {
		return now.Add(window)
	}
	return w.Oldest.Add(window)
}

// CounterStore keeps per-key timestamp sequences. Each sequence only holds
// timestamps within [now-window, now] when read; stale entries are pruned on
// access.
type CounterStore interface {
	// CountOnly prunes and counts the window without recording anything.
	CountOnly(ctx context.Context, key string, window time.Duration, now time.Time) (WindowCount, error)

	// IncrementAndCount records now into every listed window of key as one
	// atomic step and returns the counts after the increment, in the order
	// the windows were given.
	IncrementAndCount(ctx context.Context, key string, now time.Time, windows ...time.Duration) ([]WindowCount, error)

	// Healthy is a cheap liveness flag; it never performs I/O.
	Healthy() bool

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close stops background goroutines and releases resources.
	Close() error
}
