package api

import (
	"net/http"
	"strings"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// PostMessage accepts a message for an agent from an anonymous visitor.
// POST /api/v1/public/agents/{agent_id}/messages
//
// A message without a conversation id opens a new conversation. Events are
// fired after the response is decided and never delay it.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	var req models.PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if problems := req.Validate(); problems != nil {
		resp := models.NewErrorResponse("invalid message", models.ErrorCodeValidation)
		resp.Details = problems
		h.writeJSONResponse(w, http.StatusUnprocessableEntity, resp)
		return
	}

	receivedAt := h.now()
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
		h.notifier.Fire(agentID, models.EventConversationStarted, map[string]any{
			"conversation_id": conversationID,
			"started_at":      receivedAt,
		})
	}

	h.notifier.Fire(agentID, models.EventMessageReceived, map[string]any{
		"conversation_id": conversationID,
		"message":         strings.TrimSpace(req.Message),
		"received_at":     receivedAt,
	})

	h.writeJSONResponse(w, http.StatusAccepted, models.MessageAcceptedResponse{
		ConversationID: conversationID,
		Status:         "accepted",
		ReceivedAt:     receivedAt,
	})
}

// RaiseEscalation asks for a human to take over a conversation.
// POST /api/v1/public/agents/{agent_id}/escalations
func (h *Handlers) RaiseEscalation(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	var req models.RaiseEscalationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if problems := req.Validate(); problems != nil {
		resp := models.NewErrorResponse("invalid escalation", models.ErrorCodeValidation)
		resp.Details = problems
		h.writeJSONResponse(w, http.StatusUnprocessableEntity, resp)
		return
	}

	raisedAt := h.now()
	h.notifier.Fire(agentID, models.EventEscalationRaised, map[string]any{
		"conversation_id": strings.TrimSpace(req.ConversationID),
		"reason":          strings.TrimSpace(req.Reason),
		"raised_at":       raisedAt,
	})

	h.writeJSONResponse(w, http.StatusAccepted, models.MessageAcceptedResponse{
		ConversationID: strings.TrimSpace(req.ConversationID),
		Status:         "escalated",
		ReceivedAt:     raisedAt,
	})
}
