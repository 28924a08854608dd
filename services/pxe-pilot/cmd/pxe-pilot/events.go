package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"pxepilot/pkg/bus"
	"pxepilot/services/nodes"
)

func newEventsCommand() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print node events from NATS as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return errors.New("NATS_URL is required to follow events")
			}

			b, err := bus.New(cfg.NATSURL, nats.Name(serviceName+"-events"))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			sub, err := b.Subscribe(ctx, subject, eventPrinter(cmd.OutOrStdout()))
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer sub.Close()

			logger.Info().Str("subject", subject).Msg("following events")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", nodes.SubjectAll, "Subject to subscribe to")
	return cmd
}

// eventPrinter writes one "<subject> <payload>" line per message.
func eventPrinter(w io.Writer) func(context.Context, string, []byte) error {
	var mu sync.Mutex
	return func(_ context.Context, subject string, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(w, "%s %s\n", subject, data)
		return err
	}
}
