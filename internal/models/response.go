// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// SubscriptionResponse is the owner-facing view of a subscription. It never
// carries the signing secret.
type SubscriptionResponse struct {
	ID              string      `json:"id"`
	AgentID         string      `json:"agent_id"`
	URL             string      `json:"url"`
	Events          []EventType `json:"events"`
	Active          bool        `json:"active"`
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty"`
	FailureCount    int         `json:"failure_count"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// CreateSubscriptionResponse includes the signing secret, returned exactly once.
type CreateSubscriptionResponse struct {
	SubscriptionResponse
	Secret string `json:"secret"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
	TotalCount    int                    `json:"total_count"`
}

type EventTypesResponse struct {
	EventTypes []string `json:"event_types"`
}

// MessageAcceptedResponse acknowledges a public agent message.
type MessageAcceptedResponse struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	ReceivedAt     time.Time `json:"received_at"`
}

// RateLimitedResponse is the 429 body written by the request governor.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Categories:
// - Validation errors: Input format/constraint violations (Details lists fields)
// - Not found errors: Resource doesn't exist or belongs to another tenant
// - Authorization errors: Authentication failures
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Request governor denial
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewSubscriptionResponse builds the secret-free view of a subscription.
func NewSubscriptionResponse(s *Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:              s.ID,
		AgentID:         s.AgentID,
		URL:             s.URL,
		Events:          s.Events,
		Active:          s.Active,
		LastTriggeredAt: s.LastTriggeredAt,
		FailureCount:    s.FailureCount,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records a component's status. An unhealthy component marks the
// whole response degraded unless it is already unhealthy.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}
