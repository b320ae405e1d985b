package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MetricsServer exposes the Prometheus scrape endpoint on its own port so it
// stays off the public API listener.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer mounts the provider's registry at path. With a nil
// provider, or metrics disabled, every path answers 404.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	if h := provider.Handler(); h != nil {
		mux.Handle(path, h)
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown, then returns http.ErrServerClosed.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight scrapes up to ctx.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
