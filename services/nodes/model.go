package nodes

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type nodeModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MAC       string `gorm:"size:17;uniqueIndex;not null"`
	Reinstall bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (nodeModel) TableName() string { return "nodes" }

func (m nodeModel) toNode() Node {
	n := Node{
		MAC:       m.MAC,
		Reinstall: m.Reinstall,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.LastSeen != nil {
		seen := m.LastSeen.UTC()
		n.LastSeen = &seen
	}
	return n
}

type auditModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Actor   string    `gorm:"size:64;not null"`
	Action  string    `gorm:"size:64;not null"`
	MAC     string    `gorm:"size:17;not null;index"`
	Details datatypes.JSONMap
	At      time.Time `gorm:"not null;index"`
}

func (auditModel) TableName() string { return "audit_events" }

func (m auditModel) toEvent() AuditEvent {
	details := map[string]any(m.Details)
	if details == nil {
		details = map[string]any{}
	}
	return AuditEvent{
		ID:      m.ID,
		Actor:   m.Actor,
		Action:  m.Action,
		MAC:     m.MAC,
		Details: details,
		At:      m.At.UTC(),
	}
}
