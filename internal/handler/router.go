// Package handler provides the local status HTTP server of lumen-sync:
// health, Prometheus metrics and a queue snapshot for tooling.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/lumen-sync/internal/uploader"
)

// Router serves the local status endpoints. It binds to loopback by
// default and carries no authentication; it never exposes file contents or
// key material.
type Router struct {
	queue    *uploader.Queue
	registry *prometheus.Registry
	logger   zerolog.Logger
}

// RouterConfig contains configuration for the status router.
type RouterConfig struct {
	Queue    *uploader.Queue
	Registry *prometheus.Registry
	Logger   zerolog.Logger
}

// NewRouter creates a status router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		queue:    config.Queue,
		registry: config.Registry,
		logger:   config.Logger.With().Str("component", "status_router").Logger(),
	}
}

// Handler returns the HTTP handler for the status server.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.handleHealth)
	r.Get("/queue", rt.handleQueue)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	return r
}

// handleHealth reports liveness.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// handleQueue returns a point-in-time snapshot of the upload queue.
func (rt *Router) handleQueue(w http.ResponseWriter, r *http.Request) {
	snap := rt.queue.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		rt.logger.Error().Err(err).Msg("failed to encode queue snapshot")
	}
}
