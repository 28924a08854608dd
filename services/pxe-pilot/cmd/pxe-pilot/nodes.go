package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pxepilot/pkg/mac"
	"pxepilot/services/nodes"
)

// ActorCLI is recorded on audit events created from the command line.
const ActorCLI = "cli"

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			_, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			closeStore()
			return nil
		},
	}
}

func newNodesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect and flag nodes directly in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newNodesListCommand())
	cmd.AddCommand(newNodesReinstallCommand())
	return cmd
}

func newNodesListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			return printNodes(cmd.OutOrStdout(), list, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print nodes as JSON")
	return cmd
}

func newNodesReinstallCommand() *cobra.Command {
	var clearFlag bool

	cmd := &cobra.Command{
		Use:   "reinstall <mac>",
		Short: "Set (or with --clear, clear) the reinstall flag for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, ok := mac.Normalize(args[0])
			if !ok {
				return fmt.Errorf("invalid mac %q", args[0])
			}

			ctx := commandContext(cmd)
			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			node, err := store.SetReinstall(ctx, addr, !clearFlag, ActorCLI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reinstall=%t\n", node.MAC, node.Reinstall)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFlag, "clear", false, "Clear the flag instead of setting it")
	return cmd
}

func printNodes(w io.Writer, list []nodes.Node, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"nodes": list})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MAC\tREINSTALL\tLAST SEEN\tCREATED")
	for _, n := range list {
		lastSeen := "never"
		if n.LastSeen != nil {
			lastSeen = n.LastSeen.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", n.MAC, n.Reinstall, lastSeen, n.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
