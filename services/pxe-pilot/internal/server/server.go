// Package server composes the boot and admin handlers into the pxe-pilot HTTP router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pxepilot/pkg/bus"
	"pxepilot/pkg/ipxe"
	"pxepilot/services/api"
	"pxepilot/services/bootd"
	"pxepilot/services/nodes"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

// Options configures the router.
type Options struct {
	Store        nodes.Store
	Scripts      *ipxe.Scripts
	ChainBaseURL string
	// AdminSecret empty leaves the admin routes open.
	AdminSecret    string
	AdminRateLimit int
	AllowedOrigins []string
	Events         bus.Publisher
	Logger         zerolog.Logger
	// Registry receives the service metrics and backs /metrics. A fresh
	// registry with Go and process collectors is used when nil.
	Registry *prometheus.Registry
	// Middleware wraps every request, typically telemetry.Middleware.
	Middleware func(http.Handler) http.Handler
}

// New builds the HTTP handler serving health, metrics, boot and admin routes.
func New(opts Options) (http.Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("node store is required")
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	boot, err := bootd.NewServer(bootd.Options{
		Store:        opts.Store,
		Scripts:      opts.Scripts,
		ChainBaseURL: opts.ChainBaseURL,
		Events:       opts.Events,
		Logger:       opts.Logger,
		Registerer:   registry,
	})
	if err != nil {
		return nil, fmt.Errorf("boot handlers: %w", err)
	}

	admin, err := api.New(api.Options{
		Store:      opts.Store,
		Gate:       api.NewAdminGate(opts.AdminSecret),
		Events:     opts.Events,
		Logger:     opts.Logger,
		Registerer: registry,
		RateLimit:  opts.AdminRateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("admin handlers: %w", err)
	}

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.Middleware != nil {
		r.Use(opts.Middleware)
	}
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Get("/health", handleHealth)
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady(opts.Store))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	if err := boot.RegisterRoutes(r); err != nil {
		return nil, err
	}
	if err := admin.RegisterRoutes(r); err != nil {
		return nil, err
	}
	return r, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "OK")
}

func handleReady(store nodes.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "NOT_READY")
			return
		}
		writeStatus(w, http.StatusOK, "READY")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
