// Package webhook manages tenant webhook subscriptions and delivers signed
// agent events to them. Delivery is fire-and-forget: the caller never waits
// for, or learns about, the outcome of a send. Per-subscription delivery
// health is recorded in storage.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"
)

// SubscriptionPatch lists the owner-editable fields. Nil fields are left
// unchanged; a non-nil empty Events is rejected.
type SubscriptionPatch struct {
	URL    *string
	Events []string
	Active *bool
}

// Registry is the owner-scoped CRUD surface over subscription storage. Every
// operation takes the caller's tenant id; a subscription owned by someone else
// is reported as not found.
type Registry struct {
	store storage.Storage
	now   func() time.Time
}

func NewRegistry(store storage.Storage) *Registry {
	return &Registry{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new subscription. The signing secret is
// returned separately; the returned subscription never carries it.
func (r *Registry) Create(ctx context.Context, ownerID, agentID, url string, events []string) (*models.Subscription, string, error) {
	details := make(map[string]string)
	if strings.TrimSpace(agentID) == "" {
		details["agent_id"] = "agent_id is required"
	}
	url = strings.TrimSpace(url)
	if err := models.ValidateWebhookURL(url); err != nil {
		details["url"] = err.Error()
	}
	parsed, problem := validateEvents(events)
	if problem != "" {
		details["events"] = problem
	}
	if len(details) > 0 {
		return nil, "", NewValidationError("invalid webhook subscription", details)
	}

	sub, err := models.NewSubscription(ownerID, agentID, url, parsed)
	if err != nil {
		return nil, "", NewInternalError("failed to create webhook subscription", err)
	}
	sub.CreatedAt = r.now()
	sub.UpdatedAt = sub.CreatedAt

	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, "", NewInternalError("failed to store webhook subscription", err)
	}

	slog.Info("Webhook subscription created",
		"subscription_id", sub.ID,
		"owner_id", ownerID,
		"agent_id", agentID,
		"events", parsed,
	)
	return sub.Redacted(), sub.Secret, nil
}

// List returns the owner's subscriptions for an agent without secrets.
func (r *Registry) List(ctx context.Context, ownerID, agentID string) ([]*models.Subscription, error) {
	subs, err := r.store.ListSubscriptions(ctx, ownerID, agentID)
	if err != nil {
		return nil, NewInternalError("failed to list webhook subscriptions", err)
	}
	out := make([]*models.Subscription, len(subs))
	for i, s := range subs {
		out[i] = s.Redacted()
	}
	return out, nil
}

// Get returns one of the owner's subscriptions without its secret.
func (r *Registry) Get(ctx context.Context, id, ownerID string) (*models.Subscription, error) {
	sub, err := r.owned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return sub.Redacted(), nil
}

// Update applies patch to one of the owner's subscriptions. Delivery health
// fields are not editable.
func (r *Registry) Update(ctx context.Context, id, ownerID string, patch SubscriptionPatch) (*models.Subscription, error) {
	sub, err := r.owned(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	details := make(map[string]string)
	if patch.URL != nil {
		url := strings.TrimSpace(*patch.URL)
		if err := models.ValidateWebhookURL(url); err != nil {
			details["url"] = err.Error()
		} else {
			sub.URL = url
		}
	}
	if patch.Events != nil {
		parsed, problem := validateEvents(patch.Events)
		if problem != "" {
			details["events"] = problem
		} else {
			sub.Events = parsed
		}
	}
	if len(details) > 0 {
		return nil, NewValidationError("invalid webhook subscription", details)
	}
	if patch.Active != nil {
		sub.Active = *patch.Active
	}
	sub.UpdatedAt = r.now()

	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError(id)
		}
		return nil, NewInternalError("failed to update webhook subscription", err)
	}

	slog.Info("Webhook subscription updated",
		"subscription_id", sub.ID,
		"owner_id", ownerID,
		"active", sub.Active,
	)
	return sub.Redacted(), nil
}

// Delete removes one of the owner's subscriptions.
func (r *Registry) Delete(ctx context.Context, id, ownerID string) error {
	if _, err := r.owned(ctx, id, ownerID); err != nil {
		return err
	}
	if err := r.store.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError(id)
		}
		return NewInternalError("failed to delete webhook subscription", err)
	}

	slog.Info("Webhook subscription deleted", "subscription_id", id, "owner_id", ownerID)
	return nil
}

// owned loads a subscription and hides it from anyone but its owner.
func (r *Registry) owned(ctx context.Context, id, ownerID string) (*models.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError(id)
		}
		return nil, NewInternalError("failed to get webhook subscription", err)
	}
	if sub.OwnerID != ownerID {
		return nil, NewNotFoundError(id)
	}
	return sub, nil
}

// validateEvents returns the parsed set or a message naming the valid tags.
func validateEvents(raw []string) ([]models.EventType, string) {
	valid := strings.Join(models.EventTypeNames(), ", ")
	if len(raw) == 0 {
		return nil, fmt.Sprintf("at least one event type is required (valid: %s)", valid)
	}
	parsed, unknown := models.ParseEventTypes(raw)
	if len(unknown) > 0 {
		return nil, fmt.Sprintf("unknown event types: %s (valid: %s)", strings.Join(unknown, ", "), valid)
	}
	return parsed, ""
}
