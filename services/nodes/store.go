package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pxepilot/pkg/db"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Store is the persistence boundary for nodes. Mutations are keyed by
// canonical MAC and rely on the unique index on mac, so concurrent callers
// for the same MAC never produce duplicate rows.
type Store interface {
	// FindByMAC returns ErrNotFound when mac is unknown.
	FindByMAC(ctx context.Context, mac string) (Node, error)
	// UpsertOnBoot creates the node if needed and stamps last_seen. The
	// boolean reports whether this call created the node.
	UpsertOnBoot(ctx context.Context, mac string) (Node, bool, error)
	// SetReinstall creates or updates the node with the given flag and
	// records an audit event attributed to actor.
	SetReinstall(ctx context.Context, mac string, reinstall bool, actor string) (Node, error)
	// List returns every node ordered by MAC.
	List(ctx context.Context) ([]Node, error)
	// ListAudit returns audit events newest first, in reverse insertion
	// order for events sharing a timestamp.
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	Ping(ctx context.Context) error
}

// GormStore implements Store on a gorm handle. Each call runs in its own
// transaction bounded by db.DefaultTimeout.
type GormStore struct {
	orm *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// NewGormStore returns a Store backed by orm. The schema must already be migrated.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm, now: time.Now}, nil
}

// timestamp is truncated to microseconds so values survive a PostgreSQL round trip unchanged.
func (s *GormStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *GormStore) FindByMAC(ctx context.Context, mac string) (Node, error) {
	var model nodeModel
	err := db.WithTimeout(ctx, db.DefaultTimeout, func(ctx context.Context) error {
		return s.orm.WithContext(ctx).Where("mac = ?", mac).Take(&model).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, storeError("find", mac, err)
	}
	return model.toNode(), nil
}

func (s *GormStore) UpsertOnBoot(ctx context.Context, mac string) (Node, bool, error) {
	now := s.timestamp()

	var (
		model   nodeModel
		created bool
	)
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = insertIfAbsent(tx, &nodeModel{MAC: mac, LastSeen: &now, CreatedAt: now})
		if err != nil {
			return err
		}
		if !created {
			if err := tx.Model(&nodeModel{}).Where("mac = ?", mac).Update("last_seen", now).Error; err != nil {
				return err
			}
		}
		return tx.Where("mac = ?", mac).Take(&model).Error
	})
	if err != nil {
		return Node{}, false, storeError("upsert on boot", mac, err)
	}
	return model.toNode(), created, nil
}

func (s *GormStore) SetReinstall(ctx context.Context, mac string, reinstall bool, actor string) (Node, error) {
	now := s.timestamp()

	action := ActionReinstallClear
	if reinstall {
		action = ActionReinstallSet
	}

	var model nodeModel
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		created, err := insertIfAbsent(tx, &nodeModel{MAC: mac, Reinstall: reinstall, CreatedAt: now})
		if err != nil {
			return err
		}
		if !created {
			if err := tx.Model(&nodeModel{}).Where("mac = ?", mac).Update("reinstall", reinstall).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("mac = ?", mac).Take(&model).Error; err != nil {
			return err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		event := auditModel{
			ID:     id,
			Actor:  actor,
			Action: action,
			MAC:    mac,
			Details: datatypes.JSONMap{
				"reinstall": reinstall,
				"created":   created,
			},
			At: now,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return Node{}, storeError("set reinstall", mac, err)
	}
	return model.toNode(), nil
}

func (s *GormStore) List(ctx context.Context) ([]Node, error) {
	var models []nodeModel
	err := db.WithTimeout(ctx, db.DefaultTimeout, func(ctx context.Context) error {
		return s.orm.WithContext(ctx).Order("mac ASC").Find(&models).Error
	})
	if err != nil {
		return nil, storeError("list", "", err)
	}

	out := make([]Node, 0, len(models))
	for _, m := range models {
		out = append(out, m.toNode())
	}
	return out, nil
}

func (s *GormStore) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	var models []auditModel
	err := db.WithTimeout(ctx, db.DefaultTimeout, func(ctx context.Context) error {
		// Event ids are UUIDv7, so id breaks ties between events in the same microsecond.
		query := s.orm.WithContext(ctx).Order("at DESC, id DESC").Limit(limit)
		if filter.MAC != "" {
			query = query.Where("mac = ?", filter.MAC)
		}
		return query.Find(&models).Error
	})
	if err != nil {
		return nil, storeError("list audit", filter.MAC, err)
	}

	out := make([]AuditEvent, 0, len(models))
	for _, m := range models {
		out = append(out, m.toEvent())
	}
	return out, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.orm)
}

func (s *GormStore) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.WithTimeout(ctx, db.DefaultTimeout, func(ctx context.Context) error {
		return s.orm.WithContext(ctx).Transaction(fn)
	})
}

// insertIfAbsent inserts row unless a node with the same MAC exists and
// reports whether the insert happened. The unique index on mac arbitrates
// concurrent inserts.
func insertIfAbsent(tx *gorm.DB, row *nodeModel) (bool, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mac"}},
		DoNothing: true,
	}).Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
