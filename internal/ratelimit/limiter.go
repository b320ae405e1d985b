// Package ratelimit governs public agent traffic with a dual sliding window
// (per-minute and per-day) keyed by client identity. Counts live in a
// CounterStore: Redis when it is reachable, an in-process store otherwise.
// The HTTP middleware sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Window lengths of the two policy windows.
const (
	ShortWindow = time.Minute
	LongWindow  = 24 * time.Hour
)

// WindowName identifies which policy window denied a request.
type WindowName string

const (
	WindowNone  WindowName = ""
	WindowShort WindowName = "short"
	WindowLong  WindowName = "long"
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow decides whether the request identified by key is admitted.
	// An admitted request is counted against both windows.
	Allow(ctx context.Context, key RateKey) (Decision, error)

	// Policy returns the limits being enforced.
	Policy() Policy
}

// BackendReporter is implemented by limiters that can describe which counter
// store is answering. Health endpoints use it.
type BackendReporter interface {
	ActiveBackend() string
	Degraded() bool
}

// Decision is computed fresh for every request and never cached.
type Decision struct {
	Allowed    bool
	Limit      int           // Limit of the window the decision refers to
	Remaining  int           // Requests left in the short window, 0 when denied
	ResetAt    time.Time     // When the referenced window frees a slot
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
	Violated   WindowName
	Backend    string // Name of the counter store that answered
}

// Policy holds the two window limits.
type Policy struct {
	PerMinute int
	PerDay    int
}

// DefaultPolicy returns 30 requests per minute and 500 per day.
func DefaultPolicy() Policy {
	return Policy{PerMinute: 30, PerDay: 500}
}

// Header renders the policy for the X-RateLimit-Policy response header.
func (p Policy) Header() string {
	return fmt.Sprintf("%d;w=%d, %d;w=%d",
		p.PerMinute, int(ShortWindow.Seconds()),
		p.PerDay, int(LongWindow.Seconds()))
}
