// Package models - API request types and input validation.
// This file defines the incoming request structures of the registry and the
// public agent endpoints.
//
// Validation Philosophy:
// - Fail fast with clear, field-keyed error messages
// - Normalize input (trimmed strings, de-duplicated event tags) before storing
package models

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxMessageLength bounds a single public agent message.
const MaxMessageLength = 8000

// CreateSubscriptionRequest is the body of POST /api/v1/agents/{agent_id}/webhooks.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// UpdateSubscriptionRequest is the body of PATCH /api/v1/webhooks/{id}.
// All fields are optional.
type UpdateSubscriptionRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

// PostMessageRequest is the body of a public agent message.
type PostMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RaiseEscalationRequest asks for a human to take over a conversation.
type RaiseEscalationRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}

// ValidateWebhookURL checks that raw is an absolute http(s) URL with a host.
func ValidateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url is not valid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

// Validate returns field-keyed problems with the message, or nil.
func (r *PostMessageRequest) Validate() map[string]string {
	problems := make(map[string]string)
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		problems["message"] = "message is required"
	} else if len(msg) > MaxMessageLength {
		problems["message"] = fmt.Sprintf("message exceeds %d characters", MaxMessageLength)
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// Validate returns field-keyed problems with the escalation, or nil.
func (r *RaiseEscalationRequest) Validate() map[string]string {
	if strings.TrimSpace(r.ConversationID) == "" {
		return map[string]string{"conversation_id": "conversation_id is required"}
	}
	return nil
}
