package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"

	"github.com/gorilla/mux"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// KeyRing holds the configured tenant API keys indexed by SHA-256 hash. Raw
// keys are dropped once the ring is built.
type KeyRing struct {
	byHash map[string]*models.APIKey
}

// NewKeyRing hashes every configured key.
func NewKeyRing(keys []models.TenantAPIKey) *KeyRing {
	ring := &KeyRing{byHash: make(map[string]*models.APIKey, len(keys))}
	for _, k := range keys {
		ak := models.NewAPIKey(k)
		ring.byHash[ak.KeyHash] = ak
	}
	return ring
}

// Lookup returns the enabled key matching rawKey, or nil.
func (kr *KeyRing) Lookup(rawKey string) *models.APIKey {
	if kr == nil || rawKey == "" {
		return nil
	}
	ak, ok := kr.byHash[models.HashAPIKey(rawKey)]
	if !ok || !ak.Enabled {
		return nil
	}
	return ak
}

// Len reports the number of configured keys.
func (kr *KeyRing) Len() int {
	if kr == nil {
		return 0
	}
	return len(kr.byHash)
}

// APIKeyFromContext returns the authenticated tenant key, if any.
func APIKeyFromContext(ctx context.Context) *models.APIKey {
	ak, _ := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return ak
}

// TenantID returns the tenant that owns the request, or "" when anonymous.
func TenantID(r *http.Request) string {
	if ak := APIKeyFromContext(r.Context()); ak != nil {
		return ak.TenantID
	}
	return ""
}

// authMiddleware requires a Bearer tenant key on every request it wraps.
func authMiddleware(keys *KeyRing) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "Authorization required")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeUnauthorized(w, r, "Invalid authorization format")
				return
			}

			validKey := keys.Lookup(strings.TrimSpace(authHeader[len(prefix):]))
			if validKey == nil {
				writeUnauthorized(w, r, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, validKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// anonymousTenantMiddleware is used when auth is disabled. Every caller acts
// as the given tenant so ownership checks still apply.
func anonymousTenantMiddleware(tenantID string) mux.MiddlewareFunc {
	key := &models.APIKey{Name: "anonymous", TenantID: tenantID, Enabled: true}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	slog.Warn("Authentication failed",
		"event", "security_audit",
		"reason", message,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentgate"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, models.ErrorCodeUnauthorized))
}
