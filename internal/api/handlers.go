package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/ratelimit"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/version"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/webhook"
)

// Notifier receives agent events. The webhook dispatcher implements it; Fire
// must return without waiting for delivery.
type Notifier interface {
	Fire(agentID string, eventType models.EventType, payload any)
}

// Handlers contains HTTP handlers for the gateway API
type Handlers struct {
	registry *webhook.Registry
	notifier Notifier
	storage  storage.Storage
	limiter  ratelimit.Limiter
	now      func() time.Time
}

// HandlerOption configures optional dependencies of Handlers.
type HandlerOption func(*Handlers)

// WithStorage enables the storage component of the health check.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = store
	}
}

// WithLimiter sets the limiter guarding public routes and reported by health.
func WithLimiter(limiter ratelimit.Limiter) HandlerOption {
	return func(h *Handlers) {
		h.limiter = limiter
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(registry *webhook.Registry, notifier Notifier, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		registry: registry,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	if reporter, ok := h.limiter.(ratelimit.BackendReporter); ok {
		if reporter.Degraded() {
			response.AddComponent("rate_limit", models.StatusDegraded,
				"Counting on fallback store "+reporter.ActiveBackend())
		} else {
			response.AddComponent("rate_limit", models.StatusHealthy,
				"Counting on "+reporter.ActiveBackend())
		}
	}

	response.AddComponent("api", models.StatusHealthy, "API is operational")

	h.writeJSONResponse(w, http.StatusOK, response)
}

// EventTypes lists the event tags a subscription may ask for.
// GET /api/v1/webhooks/event-types
func (h *Handlers) EventTypes(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.EventTypesResponse{EventTypes: models.EventTypeNames()})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to tell the client.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps a registry error onto the response. Anything that is
// not a ServiceError is reported as an internal error without its text.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *webhook.ServiceError
	if !errors.As(err, &svcErr) {
		slog.Error("Unexpected handler error", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		slog.Error("Webhook registry failure", "code", svcErr.Code, "error", svcErr.Err)
	}

	resp := models.NewErrorResponse(svcErr.Message, svcErr.Code)
	resp.Details = svcErr.Details
	h.writeJSONResponse(w, svcErr.StatusCode, resp)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

const maxBodyBytes = 64 << 10

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(key *models.APIKey) string {
	if key == nil {
		return "anonymous"
	}
	if key.Name != "" {
		return key.Name
	}
	return "unnamed-key"
}
