// Package bootd serves the unauthenticated iPXE endpoints booting machines call.
package bootd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pxepilot/pkg/bus"
	"pxepilot/pkg/ipxe"
	"pxepilot/pkg/mac"
	"pxepilot/services/nodes"
)

const textContentType = "text/plain"

// Options wires the dependencies of a Server.
type Options struct {
	Store   nodes.Store
	Scripts *ipxe.Scripts
	// ChainBaseURL is the base the chain script points /boot at.
	ChainBaseURL string
	// Events is optional; nil disables event publishing.
	Events     bus.Publisher
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
}

// Server decides per MAC whether a machine runs the installer or boots its local disk.
type Server struct {
	store     nodes.Store
	scripts   *ipxe.Scripts
	chainBase string
	events    bus.Publisher
	logger    zerolog.Logger
	metrics   *metrics
}

// NewServer validates opts and returns a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("node store is required")
	}
	if opts.Scripts == nil {
		return nil, errors.New("scripts are required")
	}
	if strings.TrimSpace(opts.ChainBaseURL) == "" {
		return nil, errors.New("chain base URL is required")
	}

	return &Server{
		store:     opts.Store,
		scripts:   opts.Scripts,
		chainBase: opts.ChainBaseURL,
		events:    opts.Events,
		logger:    opts.Logger.With().Str("component", "bootd").Logger(),
		metrics:   newMetrics(opts.Registerer),
	}, nil
}

// RegisterRoutes wires the chain and boot handlers onto r.
func (s *Server) RegisterRoutes(r chi.Router) error {
	if r == nil {
		return errors.New("nil router")
	}
	r.Get("/chain", s.handleChain)
	r.Get("/boot", s.handleBoot)
	return nil
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	script, err := s.scripts.Chain(s.chainBase)
	if err != nil {
		s.logger.Error().Err(err).Msg("render chain script")
		writeText(w, http.StatusInternalServerError, "Internal server error\n")
		return
	}
	writeText(w, http.StatusOK, script)
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("mac")
	addr, ok := mac.Normalize(raw)
	if !ok {
		s.logger.Warn().Str("mac", raw).Msg("boot called with missing or invalid mac")
		s.metrics.bootRequests.WithLabelValues(outcomeInvalid).Inc()
		writeText(w, http.StatusBadRequest, "Invalid or missing mac\n")
		return
	}

	node, created, err := s.store.UpsertOnBoot(r.Context(), addr)
	if err != nil {
		s.logger.Error().Err(err).Str("mac", addr).Msg("upsert node on boot")
		s.metrics.bootRequests.WithLabelValues(outcomeError).Inc()
		writeText(w, http.StatusInternalServerError, "Internal server error\n")
		return
	}
	if created {
		s.logger.Info().Str("mac", addr).Msg("created node")
		s.metrics.discovered.Inc()
		s.publish(r.Context(), nodes.SubjectDiscovered, nodes.DiscoveredEvent{
			ID:  uuid.New(),
			MAC: addr,
			At:  node.CreatedAt,
		})
	}

	clientIP := ClientIP(r)
	scriptName := nodes.ScriptLocalDisk
	var script string
	if node.Reinstall {
		scriptName = nodes.ScriptInstaller
		script, err = s.scripts.Installer(addr, clientIP)
	} else {
		script, err = s.scripts.LocalDisk()
	}
	if err != nil {
		s.logger.Error().Err(err).Str("mac", addr).Str("script", scriptName).Msg("render boot script")
		s.metrics.bootRequests.WithLabelValues(outcomeError).Inc()
		writeText(w, http.StatusInternalServerError, "Internal server error\n")
		return
	}

	s.logger.Debug().Str("mac", addr).Str("script", scriptName).Str("client_ip", clientIP).Msg("serving boot script")
	s.metrics.bootRequests.WithLabelValues(scriptName).Inc()
	s.publish(r.Context(), nodes.SubjectBooted, nodes.BootedEvent{
		ID:       uuid.New(),
		MAC:      addr,
		Script:   scriptName,
		ClientIP: clientIP,
		At:       time.Now().UTC(),
	})

	writeText(w, http.StatusOK, script)
}

// ClientIP returns the first X-Forwarded-For entry when present, otherwise
// the host part of the peer address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
