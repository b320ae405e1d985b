package api

import (
	"log/slog"
	"net/http"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/webhook"

	"github.com/gorilla/mux"
)

// ListWebhooks handles GET /api/v1/agents/{agent_id}/webhooks
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	subs, err := h.registry.List(r.Context(), TenantID(r), agentID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := models.ListSubscriptionsResponse{
		Subscriptions: make([]models.SubscriptionResponse, 0, len(subs)),
		TotalCount:    len(subs),
	}
	for _, s := range subs {
		resp.Subscriptions = append(resp.Subscriptions, models.NewSubscriptionResponse(s))
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateWebhook handles POST /api/v1/agents/{agent_id}/webhooks
// The signing secret is only ever returned here.
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	key := APIKeyFromContext(r.Context())

	var req models.CreateSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	sub, secret, err := h.registry.Create(r.Context(), TenantID(r), agentID, req.URL, req.Events)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	slog.Info("Webhook subscription registered",
		"event", "security_audit",
		"subscription_id", sub.ID,
		"agent_id", agentID,
		"api_key", getAPIKeyName(key),
	)

	h.writeJSONResponse(w, http.StatusCreated, models.CreateSubscriptionResponse{
		SubscriptionResponse: models.NewSubscriptionResponse(sub),
		Secret:               secret,
	})
}

// GetWebhook handles GET /api/v1/webhooks/{id}
func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := h.registry.Get(r.Context(), mux.Vars(r)["id"], TenantID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewSubscriptionResponse(sub))
}

// UpdateWebhook handles PATCH /api/v1/webhooks/{id}
func (h *Handlers) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.UpdateSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	sub, err := h.registry.Update(r.Context(), id, TenantID(r), webhook.SubscriptionPatch{
		URL:    req.URL,
		Events: req.Events,
		Active: req.Active,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.NewSubscriptionResponse(sub))
}

// DeleteWebhook handles DELETE /api/v1/webhooks/{id}
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.registry.Delete(r.Context(), id, TenantID(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}

	slog.Info("Webhook subscription removed",
		"event", "security_audit",
		"subscription_id", id,
		"api_key", getAPIKeyName(APIKeyFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}
