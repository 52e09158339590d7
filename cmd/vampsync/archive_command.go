package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vampsync/internal/archive"
	"vampsync/internal/daemon"
	"vampsync/internal/logging"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Migrate finished partitions between storage tiers",
	}
	archiveCmd.AddCommand(newArchiveMigrateCommand(ctx))
	return archiveCmd
}

func newArchiveMigrateCommand(ctx *commandContext) *cobra.Command {
	var ignoreWindow bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run one migration pass",
		Long: `Move finished frame files one tier deeper. The daemon runs the same pass
on every cycle, so this command refuses to run while the daemon is up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(cfg.Archive.Tiers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archive tiers configured")
				return nil
			}
			running, err := daemon.Locked(cfg)
			if err != nil {
				return err
			}
			if running {
				return fmt.Errorf("daemon is running; it migrates on its own")
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts := []archive.Option{archive.WithLogger(logger)}
			if cfg.Compression.Enabled {
				opts = append(opts, archive.RequireCompressed(cfg.Compression.Suffix))
			}
			if ignoreWindow {
				opts = append(opts, archive.IgnoreWindow())
			}
			stats, err := archive.New(cfg, opts...).Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]int{"moved": stats.Moved, "skipped": stats.Skipped})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %d files, skipped %d\n", stats.Moved, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreWindow, "now", false, "Ignore the configured time window")
	return cmd
}
