// Package nodes persists per-machine boot state keyed by canonical MAC address.
package nodes

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded for reinstall flag changes.
const (
	ActionReinstallSet   = "reinstall.set"
	ActionReinstallClear = "reinstall.clear"
)

// ErrNotFound is returned when no node exists for a MAC.
var ErrNotFound = errors.New("node not found")

// Node is one physical machine identified by its MAC address.
type Node struct {
	MAC       string     `json:"mac"`
	Reinstall bool       `json:"reinstall"`
	LastSeen  *time.Time `json:"last_seen"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditEvent records an administrative change to a node.
type AuditEvent struct {
	ID      uuid.UUID      `json:"id"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	MAC     string         `json:"mac"`
	Details map[string]any `json:"details"`
	At      time.Time      `json:"at"`
}

// AuditFilter narrows ListAudit results. An empty MAC matches every node.
type AuditFilter struct {
	MAC   string
	Limit int
}

// StoreError wraps a failure of the underlying storage.
type StoreError struct {
	Op  string
	MAC string
	Err error
}

func (e *StoreError) Error() string {
	if e.MAC == "" {
		return fmt.Sprintf("node store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("node store: %s %s: %v", e.Op, e.MAC, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeError(op, mac string, err error) error {
	return &StoreError{Op: op, MAC: mac, Err: err}
}
