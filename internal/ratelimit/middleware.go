package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

// Options configures how the middleware derives a RateKey.
type Options struct {
	// Scope tags the key, e.g. "public".
	Scope string

	// ResourceFunc returns the addressed resource (e.g. the agent id). When nil
	// the request path is used.
	ResourceFunc func(*http.Request) string
}

// Middleware returns HTTP middleware that enforces limiter. Rate limit headers
// are set on every response; denied requests are answered with 429 and never
// reach next. If the limiter itself fails the request is admitted.
func Middleware(limiter Limiter, opts Options) func(http.Handler) http.Handler {
	resource := opts.ResourceFunc
	if resource == nil {
		resource = func(r *http.Request) string { return r.URL.Path }
	}
	policyHeader := limiter.Policy().Header()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RateKey{
				Scope:    opts.Scope,
				Subject:  ClientIP(r),
				Resource: resource(r),
			}

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				slog.Error("Rate limiter failed, admitting request",
					"key", key.String(),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			h.Set("X-RateLimit-Policy", policyHeader)

			if !decision.Allowed {
				retryAfter := retryAfterSeconds(decision.RetryAfter)
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				json.NewEncoder(w).Encode(models.RateLimitedResponse{
					Error:      "rate_limited",
					Message:    denialMessage(decision.Violated, retryAfter),
					RetryAfter: retryAfter,
				})

				slog.Warn("Rate limit exceeded",
					"key", key.String(),
					"window", string(decision.Violated),
					"limit", decision.Limit,
					"retry_after", retryAfter,
					"backend", decision.Backend,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denialMessage(window WindowName, retryAfter int) string {
	if window == WindowLong {
		return "Daily request limit reached. Please try again tomorrow."
	}
	return fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter)
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
