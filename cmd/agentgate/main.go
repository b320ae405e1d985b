package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/api"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/config"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/logger"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/observability"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/ratelimit"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/storage"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/version"
	"github.com/axilum2025/sturdy-pancake-sub003/internal/webhook"

	"github.com/redis/go-redis/v9"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	exampleFile = flag.String("example", "", "Write an example configuration file to this path and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *exampleFile != "" {
		if err := config.SaveExample(*exampleFile); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		slog.Info("Example configuration written", "path", *exampleFile)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	buildInfo := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, buildInfo)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, buildInfo)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	// Webhook registry and dispatcher share the same store
	dispatcher, err := webhook.NewDispatcher(activeStorage,
		webhook.WithDeliveryTimeout(cfg.Webhook.Timeout),
		webhook.WithUserAgent(buildInfo.UserAgent(cfg.Webhook.UserAgent)),
		webhook.WithLogger(log.With("component", "webhook")),
	)
	if err != nil {
		slog.Error("Failed to initialize webhook dispatcher", "error", err)
		os.Exit(1)
	}
	registry := webhook.NewRegistry(activeStorage)

	handlerOpts := []api.HandlerOption{api.WithStorage(activeStorage)}

	// Initialize rate limiter if enabled
	var limiterClosers []io.Closer
	if cfg.RateLimit.Enabled {
		limiter, closers, err := initializeLimiter(cfg, log.With("component", "ratelimit"))
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		limiterClosers = closers
		handlerOpts = append(handlerOpts, api.WithLimiter(limiter))
	} else {
		slog.Warn("Rate limiting is disabled; public agent endpoints are unprotected")
	}

	handlers := api.NewHandlers(registry, dispatcher, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"storage", cfg.Storage.Type,
			"rate_limit_backend", cfg.RateLimit.Backend,
			"tenant_keys", len(cfg.Security.APIKeys),
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests first so no new events are fired
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Let in-flight webhook deliveries finish
	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Warn("Webhook deliveries abandoned at shutdown", "error", err)
	}

	for _, c := range limiterClosers {
		if err := c.Close(); err != nil {
			slog.Error("Failed to close rate limit store", "error", err)
		}
	}

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	slog.Info("Server shutdown complete")
}

// initializeLimiter builds the public request governor. With the redis
// backend, Redis is the primary counter store and an in-process store takes
// over while Redis is unreachable. The returned closers release the stores.
func initializeLimiter(cfg *models.Config, log *slog.Logger) (ratelimit.Limiter, []io.Closer, error) {
	rl := cfg.RateLimit
	policy := ratelimit.Policy{PerMinute: rl.RequestsPerMinute, PerDay: rl.RequestsPerDay}

	memoryStore := ratelimit.NewMemoryStore(rl.CleanupInterval)
	closers := []io.Closer{memoryStore}
	fallback := ratelimit.NewSlidingWindowLimiter(memoryStore, policy)

	var limiter ratelimit.Limiter = fallback
	if rl.Backend == models.RateLimitBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		redisStore := ratelimit.NewRedisStore(client,
			ratelimit.WithKeyPrefix(rl.KeyPrefix),
			ratelimit.WithOpTimeout(rl.StoreTimeout),
			ratelimit.WithHealthCheckInterval(rl.HealthCheckInterval),
			ratelimit.WithLogger(log),
		)
		closers = append(closers, redisStore)
		primary := ratelimit.NewSlidingWindowLimiter(redisStore, policy)
		limiter = ratelimit.NewFailoverLimiter(primary, fallback, log)
	}

	if !cfg.Metrics.Enabled {
		return limiter, closers, nil
	}

	instrumented, err := observability.NewInstrumentedLimiter(limiter)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, fmt.Errorf("instrument rate limiter: %w", err)
	}
	return instrumented, closers, nil
}
