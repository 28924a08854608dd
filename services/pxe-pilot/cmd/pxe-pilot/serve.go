package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pxepilot/pkg/bus"
	"pxepilot/pkg/db"
	"pxepilot/pkg/ipxe"
	"pxepilot/pkg/render"
	"pxepilot/pkg/telemetry"
	"pxepilot/services/nodes"
	"pxepilot/services/pxe-pilot/internal/config"
	"pxepilot/services/pxe-pilot/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database and serve the boot and admin HTTP endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				logger.Error().Err(err).Msg("invalid configuration")
				return err
			}
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if !cfg.AdminAuthEnabled() {
		logger.Warn().Msg("ADMIN_API_KEY is not set; admin endpoints accept unauthenticated requests")
	}

	shutdownTelemetry, middleware, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := render.New()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	scripts, err := ipxe.NewScripts(engine, cfg.InstallerURLs())
	if err != nil {
		return fmt.Errorf("build scripts: %w", err)
	}

	var events bus.Publisher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL, nats.Name(serviceName), nats.MaxReconnects(-1))
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable; node events disabled")
		} else {
			defer b.Close()
			events = b
		}
	}

	handler, err := server.New(server.Options{
		Store:          store,
		Scripts:        scripts,
		ChainBaseURL:   cfg.ChainBase(),
		AdminSecret:    cfg.AdminAPIKey,
		AdminRateLimit: cfg.AdminRateLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Events:         events,
		Logger:         logger,
		Middleware:     middleware,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openStore opens and migrates the database and returns a store plus its closer.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*nodes.GormStore, func(), error) {
	database, err := db.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("close database")
		}
	}

	applied, err := db.Migrate(ctx, database)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("database migrated")
	}

	store, err := nodes.NewGormStore(database)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return store, closeDB, nil
}
