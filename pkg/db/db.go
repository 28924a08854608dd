package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"pxepilot/pkg/db/migrations"
)

const (
	// DefaultTimeout is used when executing queries to avoid leaking resources on hung calls.
	DefaultTimeout = 5 * time.Second

	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"

	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
)

// Open connects to the database at location. PostgreSQL DSNs
// (postgres:// or postgresql://) use the pgx backed postgres driver, anything
// else is treated as a SQLite file path.
func Open(ctx context.Context, location string) (*gorm.DB, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("database location is required")
	}

	dialector, isSQLite := dialectorFor(location)
	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}

	if isSQLite {
		// SQLite allows a single writer; one connection keeps writes serialised
		// inside the process instead of surfacing SQLITE_BUSY to handlers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}

	if err := Ping(ctx, database); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return database, nil
}

func dialectorFor(location string) (gorm.Dialector, bool) {
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		// Prefer simple protocol for compatibility with tools like goose.
		return postgres.New(postgres.Config{DSN: location, PreferSimpleProtocol: true}), false
	}

	path := strings.TrimPrefix(location, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return sqlite.Open(path + sep + sqlitePragmas), true
}

// Migrate applies all pending schema migrations and returns how many ran.
func Migrate(ctx context.Context, database *gorm.DB) (int, error) {
	if database == nil {
		return 0, errors.New("nil database provided")
	}

	var dialect goose.Dialect
	name := database.Dialector.Name()
	switch name {
	case dialectPostgres:
		dialect = goose.DialectPostgres
	case dialectSQLite:
		dialect = goose.DialectSQLite3
	default:
		return 0, fmt.Errorf("unsupported dialect %q", name)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return 0, err
	}

	provider, err := goose.NewProvider(dialect, sqlDB, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(migrations.All(txDialector(name))...),
	)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return len(results), nil
}

func txDialector(name string) migrations.Dialector {
	return func(tx *sql.Tx) gorm.Dialector {
		if name == dialectPostgres {
			return postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true})
		}
		return &sqlite.Dialector{Conn: tx}
	}
}

// WithTimeout applies a custom timeout when executing operations using the provided function.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// Ping ensures the database is reachable with the default timeout.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return WithTimeout(ctx, DefaultTimeout, sqlDB.PingContext)
}

// Close releases the underlying sql.DB resources for the provided GORM handle.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
