package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Dialector binds gorm to the transaction a migration runs in.
type Dialector func(tx *sql.Tx) gorm.Dialector

// All returns every schema migration in version order.
func All(open Dialector) []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: withORM(open, upInit)},
			&goose.GoFunc{RunTx: withORM(open, downInit)},
		),
	}
}

// node and auditEvent freeze the version 1 schema. Later migrations add new
// snapshot types instead of editing these.
type node struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MAC       string `gorm:"size:17;uniqueIndex;not null"`
	Reinstall bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

type auditEvent struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Actor   string    `gorm:"size:64;not null"`
	Action  string    `gorm:"size:64;not null"`
	MAC     string    `gorm:"size:17;not null;index"`
	Details datatypes.JSONMap
	At      time.Time `gorm:"not null;index"`
}

func (node) TableName() string { return "nodes" }
func (auditEvent) TableName() string { return "audit_events" }

func withORM(open Dialector, fn func(context.Context, *gorm.DB) error) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		gormDB, err := gorm.Open(open(tx), &gorm.Config{
			NamingStrategy: schema.NamingStrategy{SingularTable: false},
			Logger:         logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return err
		}
		return fn(ctx, gormDB.WithContext(ctx))
	}
}

func upInit(_ context.Context, gormDB *gorm.DB) error {
	return gormDB.AutoMigrate(&node{}, &auditEvent{})
}

func downInit(_ context.Context, gormDB *gorm.DB) error {
	return gormDB.Migrator().DropTable(&auditEvent{}, &node{})
}
