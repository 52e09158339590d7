package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vampsync/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the per-file decision ledger",
	}

	ledgerCmd.AddCommand(newLedgerRecentCommand(ctx))
	ledgerCmd.AddCommand(newLedgerCountsCommand(ctx))
	ledgerCmd.AddCommand(newLedgerPruneCommand(ctx))

	return ledgerCmd
}

func newLedgerRecentCommand(ctx *commandContext) *cobra.Command {
	var (
		outcome string
		passID  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ledger.Filter{PassID: strings.TrimSpace(passID), Limit: limit}
			if outcome != "" {
				o, err := parseOutcome(outcome)
				if err != nil {
					return err
				}
				filter.Outcome = o
			}
			return ctx.withLedger(func(store *ledger.Store) error {
				decisions, err := store.Recent(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if decisions == nil {
						decisions = []ledger.Decision{}
					}
					return writeJSON(cmd, decisions)
				}
				if len(decisions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded")
					return nil
				}
				rows := make([][]string, 0, len(decisions))
				for _, d := range decisions {
					rows = append(rows, []string{
						d.RecordedAt.Local().Format("2006-01-02 15:04:05"),
						strconv.Itoa(d.Camera),
						string(d.Outcome),
						strconv.Itoa(d.Frames),
						filepath.Base(d.Path),
						d.Detail,
					})
				}
				writeTable(cmd,
					[]string{"Time", "Cam", "Outcome", "Frames", "File", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show this outcome")
	cmd.Flags().StringVar(&passID, "pass", "", "Only show decisions of one pass id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show")
	return cmd
}

func newLedgerCountsCommand(ctx *commandContext) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Tally decisions by outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			return ctx.withLedger(func(store *ledger.Store) error {
				counts, err := store.Counts(cmd.Context(), from)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, counts)
				}
				rows := make([][]string, 0, len(ledger.Outcomes))
				for _, o := range ledger.Outcomes {
					rows = append(rows, []string{string(o), strconv.Itoa(counts[o])})
				}
				writeTable(cmd, []string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window to count; 0 counts everything")
	return cmd
}

func newLedgerPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return ctx.withLedger(func(store *ledger.Store) error {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d decisions\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete decisions older than this")
	return cmd
}

func parseOutcome(value string) (ledger.Outcome, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, o := range ledger.Outcomes {
		if string(o) == value {
			return o, nil
		}
	}
	names := make([]string, 0, len(ledger.Outcomes))
	for _, o := range ledger.Outcomes {
		names = append(names, string(o))
	}
	return "", fmt.Errorf("unknown outcome %q (want one of %s)", value, strings.Join(names, ", "))
}
