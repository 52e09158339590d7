package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vampsync/internal/daemon"
	"vampsync/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Inspect and remove leftovers of interrupted writes",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staged and half-deleted files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			leftovers, err := staging.List(cfg.Paths.DataRoot)
			if err != nil {
				return fmt.Errorf("list leftovers: %w", err)
			}

			if ctx.JSONMode() {
				if leftovers == nil {
					leftovers = []staging.Leftover{}
				}
				return writeJSON(cmd, leftovers)
			}

			out := cmd.OutOrStdout()
			if len(leftovers) == 0 {
				fmt.Fprintln(out, "No leftovers found")
				return nil
			}

			var totalSize int64
			rows := make([][]string, 0, len(leftovers))
			for _, l := range leftovers {
				totalSize += l.Size
				rows = append(rows, []string{
					string(l.Kind),
					formatDuration(time.Since(l.ModTime).Truncate(time.Minute)),
					humanBytes(l.Size),
					l.Path,
				})
			}
			writeTable(cmd,
				[]string{"Kind", "Age", "Size", "Path"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			)
			fmt.Fprintf(out, "\nTotal: %d leftovers, %s\n", len(leftovers), humanBytes(totalSize))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale leftovers",
		Long: `Remove half-deleted files and staged files older than
workflow.staging_max_age_hours.

Use --all to remove staged files regardless of age. It refuses to run while
the daemon holds its lock, since fresh staged files may be writes in flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			maxAge := time.Duration(cfg.Workflow.StagingMaxAgeHours) * time.Hour
			if cleanAll {
				running, err := daemon.Locked(cfg)
				if err != nil {
					return err
				}
				if running {
					return fmt.Errorf("daemon is running; stop it before cleaning with --all")
				}
				maxAge = 0
			}

			result := staging.Sweep(cmd.Context(), cfg.Paths.DataRoot, maxAge, nil)
			if ctx.JSONMode() {
				errs := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
				return writeJSON(cmd, map[string]any{
					"removed": len(result.Removed),
					"errors":  errs,
				})
			}
			return printSweepResult(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove staged files of any age")
	return cmd
}

func printSweepResult(cmd *cobra.Command, result staging.SweepResult) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintln(out, "No leftovers to clean")
		return nil
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d leftovers, %d errors\n", len(result.Removed), len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return nil
	}
	fmt.Fprintf(out, "Removed %d leftovers\n", len(result.Removed))
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(v) / float64(div)
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}
