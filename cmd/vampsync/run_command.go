package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vampsync/internal/daemon"
	"vampsync/internal/ledger"
	"vampsync/internal/logging"
	"vampsync/internal/metrics"
	"vampsync/internal/scanner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synchronizer daemon in the foreground",
		Long: `Run the scan, synchronize, compress and archive cycle until SIGINT or
SIGTERM. Pending synchronized output is flushed before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withDaemon(func(d *daemon.Daemon, logger *slog.Logger) error {
				if err := d.Start(signalCtx); err != nil {
					return err
				}
				select {
				case <-signalCtx.Done():
					logger.Info("vampsync shutting down")
					d.Stop()
				case <-d.Done():
				}
				return d.Err()
			})
		},
	}
}

func newSyncOnceCommand(ctx *commandContext) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "sync-once",
		Short: "Run one synchronization pass and flush all output",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withDaemon(func(d *daemon.Daemon, _ *slog.Logger) error {
				stats, err := d.RunOnce(signalCtx)
				if err != nil {
					return err
				}
				status := d.Status(signalCtx)
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"steps":         stats.Steps,
						"flushed":       stats.Flushed,
						"queued_camera": status.QueueDepths,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Processed %d steps, flushed %d synchronized pairs\n", stats.Steps, stats.Flushed)
				fmt.Fprintf(out, "Waiting: camera 1 %d, camera 2 %d\n", status.QueueDepths[0], status.QueueDepths[1])
				return nil
			}, daemon.WithSettleTime(settle))
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", scanner.DefaultMinAge, "Minimum age of camera files before they are picked up")
	return cmd
}

// withDaemon builds a daemon with the configured logger, ledger and metrics.
func (c *commandContext) withDaemon(fn func(*daemon.Daemon, *slog.Logger) error, opts ...daemon.Option) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}

	if cfg.Paths.MetricsBind != "" {
		opts = append(opts, daemon.WithMetrics(metrics.New()))
	}
	d, err := daemon.New(cfg, store, logger, opts...)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer d.Close()
	return fn(d, logger)
}
