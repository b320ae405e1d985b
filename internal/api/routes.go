package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// DefaultTenantID owns every subscription when authentication is disabled.
const DefaultTenantID = "default"

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	api.HandleFunc("/webhooks/event-types", handlers.EventTypes).Methods("GET")

	// Public agent traffic is anonymous and governed per client and agent.
	publicAPI := api.PathPrefix("/public").Subrouter()
	if handlers.limiter != nil {
		publicAPI.Use(ratelimit.Middleware(handlers.limiter, ratelimit.Options{
			Scope:        "public",
			ResourceFunc: agentResource,
		}))
	}
	publicAPI.HandleFunc("/agents/{agent_id}/messages", handlers.PostMessage).Methods("POST")
	publicAPI.HandleFunc("/agents/{agent_id}/escalations", handlers.RaiseEscalation).Methods("POST")

	tenantAPI := api.PathPrefix("").Subrouter()
	if config.Security.EnableAuth {
		tenantAPI.Use(authMiddleware(NewKeyRing(config.Security.APIKeys)))
	} else {
		slog.Warn("Authentication disabled, registry API is open",
			"event", "security_audit",
			"tenant_id", DefaultTenantID,
		)
		tenantAPI.Use(anonymousTenantMiddleware(DefaultTenantID))
	}
	tenantAPI.HandleFunc("/agents/{agent_id}/webhooks", handlers.ListWebhooks).Methods("GET")
	tenantAPI.HandleFunc("/agents/{agent_id}/webhooks", handlers.CreateWebhook).Methods("POST")
	tenantAPI.HandleFunc("/webhooks/{id}", handlers.GetWebhook).Methods("GET")
	tenantAPI.HandleFunc("/webhooks/{id}", handlers.UpdateWebhook).Methods("PATCH")
	tenantAPI.HandleFunc("/webhooks/{id}", handlers.DeleteWebhook).Methods("DELETE")

	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("OPTIONS")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware(handlers.notifier))

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.NewErrorResponse("Resource not found", models.ErrorCodeNotFound))
	})

	return router
}

// agentResource keys public limits by the addressed agent.
func agentResource(r *http.Request) string {
	return mux.Vars(r)["agent_id"]
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
	json.NewEncoder(w).Encode(errorResp)
}

// corsMiddleware handles Cross-Origin Resource Sharing
func corsMiddleware(corsConfig models.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(corsConfig.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" && (slices.Contains(corsConfig.AllowedOrigins, "*") || slices.Contains(corsConfig.AllowedOrigins, origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			}
			if len(corsConfig.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsConfig.AllowedMethods, ", "))
			}
			if len(corsConfig.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(corsConfig.AllowedHeaders, ", "))
			}
			w.Header().Set("Access-Control-Expose-Headers",
				"X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, X-RateLimit-Policy, Retry-After")
			if corsConfig.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns panics into 500 responses. When the failing route
// addresses an agent, an error-occurred event is fired for it.
func recoveryMiddleware(notifier Notifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					slog.Error("Panic recovered", "error", err, "path", r.URL.Path)

					if agentID := mux.Vars(r)["agent_id"]; agentID != "" && notifier != nil {
						notifier.Fire(agentID, models.EventErrorOccurred, map[string]any{
							"error": "internal server error",
							"path":  r.URL.Path,
						})
					}

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
					json.NewEncoder(w).Encode(errorResp)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
