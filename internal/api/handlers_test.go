package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/ratelimit"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/webhook"
)

const (
	tenantAKey = "key-tenant-a-0123456789"
	tenantBKey = "key-tenant-b-0123456789"
)

type firedEvent struct {
	agentID string
	event   models.EventType
	payload map[string]any
}

// recordingNotifier captures fired events instead of delivering them.
type recordingNotifier struct {
	mu     sync.Mutex
	events []firedEvent
}

func (n *recordingNotifier) Fire(agentID string, eventType models.EventType, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, _ := payload.(map[string]any)
	n.events = append(n.events, firedEvent{agentID: agentID, event: eventType, payload: p})
}

func (n *recordingNotifier) fired() []firedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]firedEvent(nil), n.events...)
}

// pingFailStorage reports an unreachable backend on Ping.
type pingFailStorage struct {
	*storage.MemoryStorage
	err error
}

func (p *pingFailStorage) Ping(context.Context) error { return p.err }

type testServer struct {
	router   *mux.Router
	store    *storage.MemoryStorage
	notifier *recordingNotifier
}

func testConfig() *models.Config {
	cfg := models.NewDefaultConfig()
	cfg.Security.APIKeys = []models.TenantAPIKey{
		{Key: tenantAKey, Name: "tenant-a", TenantID: "tenant-a", Enabled: true},
		{Key: tenantBKey, Name: "tenant-b", TenantID: "tenant-b", Enabled: true},
	}
	return cfg
}

func newTestServer(t *testing.T, policy ratelimit.Policy) *testServer {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)

	counters := ratelimit.NewMemoryStore(0)
	t.Cleanup(func() { counters.Close() })
	limiter := ratelimit.NewSlidingWindowLimiter(counters, policy)

	notifier := &recordingNotifier{}
	handlers := NewHandlers(webhook.NewRegistry(store), notifier, WithStorage(store), WithLimiter(limiter))

	return &testServer{
		router:   SetupRoutes(handlers, testConfig()),
		store:    store,
		notifier: notifier,
	}
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:40000"
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestNewHandlers(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	registry := webhook.NewRegistry(store)
	notifier := &recordingNotifier{}

	handlers := NewHandlers(registry, notifier)
	assert.Equal(t, registry, handlers.registry)
	assert.Nil(t, handlers.storage)
	assert.Nil(t, handlers.limiter)

	handlers = NewHandlers(registry, notifier, WithStorage(store))
	assert.Equal(t, store, handlers.storage)
}

func TestHandlers_HealthCheck(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	for _, path := range []string{"/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			resp := decode[models.HealthCheckResponse](t, rr)
			assert.Equal(t, models.StatusHealthy, resp.Status)
			assert.Equal(t, models.StatusHealthy, resp.Components["storage"].Status)
			assert.Equal(t, models.StatusHealthy, resp.Components["rate_limit"].Status)
			assert.Contains(t, resp.Components["rate_limit"].Message, "memory")
		})
	}
}

func TestHandlers_HealthCheck_StorageDegraded(t *testing.T) {
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	store := &pingFailStorage{MemoryStorage: mem, err: fmt.Errorf("connection refused")}
	handlers := NewHandlers(webhook.NewRegistry(store), &recordingNotifier{}, WithStorage(store))

	rr := httptest.NewRecorder()
	handlers.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decode[models.HealthCheckResponse](t, rr)
	assert.Equal(t, models.StatusDegraded, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["storage"].Status)
	assert.Contains(t, resp.Components["storage"].Message, "connection refused")
	assert.NotContains(t, resp.Components, "rate_limit")
}

func TestHandlers_EventTypes(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodGet, "/api/v1/webhooks/event-types", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[models.EventTypesResponse](t, rr)
	assert.Equal(t, []string{"conversation-started", "message-received", "escalation-raised", "error-occurred"}, resp.EventTypes)
}

func TestHandlers_WebhookLifecycle(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/agents/agent-1/webhooks", tenantAKey, models.CreateSubscriptionRequest{
		URL:    "https://hooks.example.com/agentgate",
		Events: []string{"message-received", "escalation-raised"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[models.CreateSubscriptionResponse](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Regexp(t, `^whsec_[A-Za-z0-9_-]{43}$`, created.Secret)
	assert.Equal(t, "agent-1", created.AgentID)
	assert.True(t, created.Active)

	rr = ts.do(t, http.MethodGet, "/api/v1/agents/agent-1/webhooks", tenantAKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[models.ListSubscriptionsResponse](t, rr)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, created.ID, list.Subscriptions[0].ID)
	assert.NotContains(t, rr.Body.String(), created.Secret)

	rr = ts.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, tenantAKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")

	active := false
	rr = ts.do(t, http.MethodPatch, "/api/v1/webhooks/"+created.ID, tenantAKey, models.UpdateSubscriptionRequest{Active: &active})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[models.SubscriptionResponse](t, rr)
	assert.False(t, updated.Active)
	assert.Equal(t, created.Events, updated.Events)

	rr = ts.do(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, tenantAKey, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, tenantAKey, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlers_CreateWebhook_Validation(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/agents/agent-1/webhooks", tenantAKey, models.CreateSubscriptionRequest{
		URL:    "ftp://hooks.example.com",
		Events: []string{"message-received", "order-shipped"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decode[models.ErrorResponse](t, rr)
	assert.Equal(t, models.ErrorCodeValidation, resp.Code)
	assert.Contains(t, resp.Details["url"], "http or https")
	assert.Contains(t, resp.Details["events"], "order-shipped")
	assert.Contains(t, resp.Details["events"], "conversation-started")
}

func TestHandlers_CreateWebhook_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/agent-1/webhooks", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+tenantAKey)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrorCodeBadRequest, decode[models.ErrorResponse](t, rr).Code)
}

func TestHandlers_WebhooksAreTenantScoped(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/agents/agent-1/webhooks", tenantAKey, models.CreateSubscriptionRequest{
		URL:    "https://a.example.com/hook",
		Events: []string{"error-occurred"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decode[models.CreateSubscriptionResponse](t, rr).ID

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		rr = ts.do(t, method, "/api/v1/webhooks/"+id, tenantBKey, map[string]any{})
		assert.Equal(t, http.StatusNotFound, rr.Code, method)
	}

	rr = ts.do(t, http.MethodGet, "/api/v1/agents/agent-1/webhooks", tenantBKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[models.ListSubscriptionsResponse](t, rr).TotalCount)

	_, err := ts.store.GetSubscription(context.Background(), id)
	assert.NoError(t, err, "a foreign delete must not remove the subscription")
}

func TestHandlers_RegistryRequiresAuth(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodGet, "/api/v1/agents/agent-1/webhooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/agents/agent-1/webhooks", "not-a-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlers_PostMessage_NewConversation(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/messages", "", models.PostMessageRequest{Message: " hello "})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[models.MessageAcceptedResponse](t, rr)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "accepted", resp.Status)

	events := ts.notifier.fired()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventConversationStarted, events[0].event)
	assert.Equal(t, models.EventMessageReceived, events[1].event)
	for _, e := range events {
		assert.Equal(t, "agent-1", e.agentID)
		assert.Equal(t, resp.ConversationID, e.payload["conversation_id"])
	}
	assert.Equal(t, "hello", events[1].payload["message"])
}

func TestHandlers_PostMessage_ExistingConversation(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/messages", "",
		models.PostMessageRequest{Message: "again", ConversationID: "conv-42"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "conv-42", decode[models.MessageAcceptedResponse](t, rr).ConversationID)

	events := ts.notifier.fired()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMessageReceived, events[0].event)
}

func TestHandlers_PostMessage_Validation(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/messages", "", models.PostMessageRequest{Message: "   "})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, decode[models.ErrorResponse](t, rr).Details, "message")
	assert.Empty(t, ts.notifier.fired())
}

func TestHandlers_RaiseEscalation(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/escalations", "",
		models.RaiseEscalationRequest{ConversationID: "conv-7", Reason: "wants a human"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "escalated", decode[models.MessageAcceptedResponse](t, rr).Status)

	events := ts.notifier.fired()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEscalationRaised, events[0].event)
	assert.Equal(t, "wants a human", events[0].payload["reason"])

	rr = ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/escalations", "", models.RaiseEscalationRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandlers_PublicRoutesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, ratelimit.Policy{PerMinute: 2, PerDay: 10})
	msg := models.PostMessageRequest{Message: "hi", ConversationID: "c"}

	for i := 0; i < 2; i++ {
		rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/messages", "", msg)
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(1-i), rr.Header().Get("X-RateLimit-Remaining"))
	}

	rr := ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-1/messages", "", msg)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	body := decode[models.RateLimitedResponse](t, rr)
	assert.Equal(t, "rate_limited", body.Error)
	assert.Len(t, ts.notifier.fired(), 2, "denied requests never reach the handler")

	// Another agent has its own budget.
	rr = ts.do(t, http.MethodPost, "/api/v1/public/agents/agent-2/messages", "", msg)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	// Registry routes are not governed.
	rr = ts.do(t, http.MethodGet, "/api/v1/agents/agent-1/webhooks", tenantAKey, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodPut, "/api/v1/public/agents/agent-1/messages", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, models.ErrorCodeInvalidRequest, decode[models.ErrorResponse](t, rr).Code)
}

func TestHandlers_NotFound(t *testing.T) {
	ts := newTestServer(t, ratelimit.DefaultPolicy())

	rr := ts.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decode[models.ErrorResponse](t, rr).Code)
}

func TestWriteServiceError(t *testing.T) {
	h := &Handlers{}

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", webhook.NewValidationError("bad", map[string]string{"url": "required"}), http.StatusUnprocessableEntity, models.ErrorCodeValidation},
		{"not found", webhook.NewNotFoundError("x"), http.StatusNotFound, models.ErrorCodeNotFound},
		{"internal", webhook.NewInternalError("db down", fmt.Errorf("boom")), http.StatusInternalServerError, models.ErrorCodeInternalError},
		{"plain error", fmt.Errorf("secret detail"), http.StatusInternalServerError, models.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.writeServiceError(rr, tt.err)
			assert.Equal(t, tt.wantCode, rr.Code)
			resp := decode[models.ErrorResponse](t, rr)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotContains(t, resp.Message, "secret detail")
			assert.NotContains(t, resp.Message, "boom")
		})
	}
}
