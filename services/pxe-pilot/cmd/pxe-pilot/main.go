package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pxepilot/services/pxe-pilot/internal/config"
)

const serviceName = "pxe-pilot"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "PXE/iPXE boot orchestration for bare-metal fleets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newNodesCommand())
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig reads .env and the environment and builds the process logger.
func loadConfig(ctx context.Context) (config.Config, zerolog.Logger, error) {
	config.LoadDotEnv()

	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid LOG_LEVEL: %q", cfg.LogLevel)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.LogFormat != config.LogFormatJSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", serviceName).Logger(), nil
}
