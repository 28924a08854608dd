package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pxepilot/pkg/mac"
	"pxepilot/services/nodes"
)

type reinstallResponse struct {
	MAC       string `json:"mac"`
	Reinstall bool   `json:"reinstall"`
}

func (a *API) handleListNodes(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list nodes")
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"nodes": list})
}

func (a *API) handleReinstall(reinstall bool) http.HandlerFunc {
	action := nodes.ActionReinstallClear
	if reinstall {
		action = nodes.ActionReinstallSet
	}

	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := pathMAC(r)
		if !ok {
			respondError(w, http.StatusBadRequest, errInvalidMAC)
			return
		}

		node, err := a.store.SetReinstall(r.Context(), addr, reinstall, ActorAdmin)
		if err != nil {
			a.logger.Error().Err(err).Str("mac", addr).Bool("reinstall", reinstall).Msg("set reinstall flag")
			respondError(w, http.StatusInternalServerError, errInternal)
			return
		}

		a.logger.Info().Str("mac", addr).Bool("reinstall", reinstall).Msg("reinstall flag changed")
		a.metrics.reinstallChanges.WithLabelValues(action).Inc()
		a.publish(r, nodes.ReinstallEvent{
			ID:        uuid.New(),
			MAC:       addr,
			Reinstall: node.Reinstall,
			Actor:     ActorAdmin,
			At:        time.Now().UTC(),
		})

		respondJSON(w, http.StatusOK, reinstallResponse{MAC: addr, Reinstall: reinstall})
	}
}

// pathMAC reads the {mac} route parameter. chi matches on the raw path when
// the request path is escaped, so the parameter may still be percent-encoded.
func pathMAC(r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "mac"))
	if err != nil {
		return "", false
	}
	return mac.Normalize(raw)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter nodes.AuditFilter
	if raw := query.Get("mac"); raw != "" {
		addr, ok := mac.Normalize(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, errInvalidMAC)
			return
		}
		filter.MAC = addr
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		filter.Limit = limit
	}

	events, err := a.store.ListAudit(r.Context(), filter)
	if err != nil {
		a.logger.Error().Err(err).Str("mac", filter.MAC).Msg("list audit events")
		respondError(w, http.StatusInternalServerError, errInternal)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) publish(r *http.Request, event nodes.ReinstallEvent) {
	if a.events == nil {
		return
	}
	if err := a.events.Publish(r.Context(), nodes.SubjectReinstall, event); err != nil {
		a.logger.Warn().Err(err).Str("subject", nodes.SubjectReinstall).Msg("publish event")
	}
}
