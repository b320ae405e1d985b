package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType tags an outbound webhook event. The set is closed: anything not
// listed in AllEventTypes is rejected at subscription time.
type EventType string

const (
	EventConversationStarted EventType = "conversation-started"
	EventMessageReceived     EventType = "message-received"
	EventEscalationRaised    EventType = "escalation-raised"
	EventErrorOccurred       EventType = "error-occurred"
)

// AllEventTypes lists every event a subscription may ask for, in display order.
var AllEventTypes = []EventType{
	EventConversationStarted,
	EventMessageReceived,
	EventEscalationRaised,
	EventErrorOccurred,
}

// Valid reports whether the tag belongs to the closed enumeration.
func (e EventType) Valid() bool {
	return slices.Contains(AllEventTypes, e)
}

// EventTypeNames returns the enumeration as plain strings.
func EventTypeNames() []string {
	names := make([]string, len(AllEventTypes))
	for i, e := range AllEventTypes {
		names[i] = string(e)
	}
	return names
}

// ParseEventTypes validates and de-duplicates a list of raw tags, preserving
// first-seen order. It returns the unknown tags when any are present.
func ParseEventTypes(raw []string) ([]EventType, []string) {
	var (
		out     []EventType
		unknown []string
	)
	for _, r := range raw {
		e := EventType(strings.TrimSpace(r))
		if !e.Valid() {
			unknown = append(unknown, r)
			continue
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out, unknown
}

// Subscription is a tenant-configured webhook endpoint for one agent.
//
// The secret is generated once at creation and only ever returned to the
// owner in the creation response; every other read path strips it with
// Redacted. LastTriggeredAt and FailureCount are written by the dispatcher.
type Subscription struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	AgentID         string      `json:"agent_id"`
	URL             string      `json:"url"`
	Events          []EventType `json:"events"`
	Secret          string      `json:"-"`
	Active          bool        `json:"active"`
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty"`
	FailureCount    int         `json:"failure_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewSubscription creates an active subscription with a fresh id and secret.
func NewSubscription(ownerID, agentID, url string, events []EventType) (*Subscription, error) {
	secret, err := GenerateWebhookSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Subscription{
		ID:        NewSubscriptionID(),
		OwnerID:   ownerID,
		AgentID:   agentID,
		URL:       url,
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Matches reports whether the subscription should receive the event type.
func (s *Subscription) Matches(event EventType) bool {
	return s.Active && slices.Contains(s.Events, event)
}

// Redacted returns a copy with the secret cleared.
func (s *Subscription) Redacted() *Subscription {
	c := *s
	c.Secret = ""
	c.Events = slices.Clone(s.Events)
	return &c
}

// GenerateWebhookSecret produces a signing secret in the format
// whsec_<43 url-safe base64 chars>.
func GenerateWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSubscriptionID generates a new UUID v4 for use as a Subscription ID.
func NewSubscriptionID() string {
	return uuid.New().String()
}
