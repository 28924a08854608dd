package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

const jsonContentType = "application/json"

var (
	// errInvalidMAC keeps the wording of the boot endpoint.
	errInvalidMAC   = errors.New("Invalid or missing mac")
	errInvalidLimit = errors.New("invalid limit")
	errInternal     = errors.New("internal server error")
	errUnauthorized = errors.New("unauthorized")
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
