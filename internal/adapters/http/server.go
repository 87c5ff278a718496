// Package http exposes a small read-only surface over the running
// host: liveness, status, advertised tools, and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/toolbus/internal/cache"
	"github.com/aretw0/toolbus/pkg/domain"
)

// Host is the slice of the gateway the HTTP surface needs.
type Host interface {
	Status() map[string]domain.ServerStatus
	CacheStats() cache.Stats
	ListTools(ctx context.Context, server string) ([]domain.ToolInfo, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Servers map[string]domain.ServerStatus `json:"servers"`
	Cache   cache.Stats                    `json:"cache"`
}

// NewHandler builds the router. The registry backs /metrics; pass the
// one the host registered its collectors on.
func NewHandler(host Host, registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := StatusResponse{
			Servers: host.Status(),
			Cache:   host.CacheStats(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("status encode failed", "err", err)
		}
	})

	r.Get("/tools/{server}", func(w http.ResponseWriter, req *http.Request) {
		server := chi.URLParam(req, "server")
		tools, err := host.ListTools(req.Context(), server)
		if err != nil {
			http.Error(w, fmt.Sprintf("list tools: %v", err), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tools); err != nil {
			logger.Error("tools encode failed", "err", err)
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// Serve runs the surface until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("status endpoint listening", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}
