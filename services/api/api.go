// Package api serves the authenticated admin endpoints for inspecting nodes
// and toggling their reinstall flag.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pxepilot/pkg/bus"
	"pxepilot/services/nodes"
)

// ActorAdmin is recorded on audit events created through the HTTP API.
const ActorAdmin = "admin"

// Options wires the dependencies of an API.
type Options struct {
	Store nodes.Store
	Gate  *AdminGate
	// Events is optional; nil disables event publishing.
	Events     bus.Publisher
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
	// RateLimit caps admin requests per client IP per minute. Zero disables it.
	RateLimit int
}

// API exposes the admin node endpoints.
type API struct {
	store     nodes.Store
	gate      *AdminGate
	events    bus.Publisher
	logger    zerolog.Logger
	metrics   *metrics
	rateLimit int
}

// New validates opts and returns an API.
func New(opts Options) (*API, error) {
	if opts.Store == nil {
		return nil, errors.New("node store is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("admin gate is required")
	}
	if opts.RateLimit < 0 {
		return nil, errors.New("rate limit must not be negative")
	}

	return &API{
		store:     opts.Store,
		gate:      opts.Gate,
		events:    opts.Events,
		logger:    opts.Logger.With().Str("component", "api").Logger(),
		metrics:   newMetrics(opts.Registerer),
		rateLimit: opts.RateLimit,
	}, nil
}

// RegisterRoutes mounts the admin endpoints on r behind the rate limiter and the admin gate.
func (a *API) RegisterRoutes(r chi.Router) error {
	if a == nil {
		return errors.New("nil api")
	}
	if r == nil {
		return errors.New("nil router")
	}

	r.Group(func(r chi.Router) {
		if a.rateLimit > 0 {
			r.Use(httprate.Limit(a.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
				}),
			))
		}
		r.Use(a.requireAdmin)

		r.Get("/nodes", a.handleListNodes)
		r.Post("/nodes/{mac}/reinstall", a.handleReinstall(true))
		r.Delete("/nodes/{mac}/reinstall", a.handleReinstall(false))
		r.Get("/audit", a.handleListAudit)
	})
	return nil
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.gate.Authorize(r.Header.Get("Authorization"))
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		status := http.StatusUnauthorized
		reason := ReasonMissingHeader
		var authErr *AuthError
		if errors.As(err, &authErr) {
			status = authErr.Status
			reason = authErr.Reason
		}
		a.logger.Warn().Str("reason", reason).Str("method", r.Method).Str("path", r.URL.Path).Msg("admin request rejected")
		a.metrics.authFailures.WithLabelValues(reason).Inc()

		w.Header().Set("WWW-Authenticate", "Bearer")
		respondError(w, status, errUnauthorized)
	})
}
