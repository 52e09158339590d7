package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"vampsync/internal/archive"
	"vampsync/internal/config"
	"vampsync/internal/daemon"
	"vampsync/internal/ledger"
	"vampsync/internal/preflight"
	"vampsync/internal/scanner"
)

type statusReport struct {
	ConfigPath string                 `json:"config_path"`
	Running    bool                   `json:"running"`
	Waiting    map[string]int         `json:"waiting"`
	Decisions  map[ledger.Outcome]int `json:"decisions_24h"`
	Archive    string                 `json:"archive_window"`
	ArchiveNow bool                   `json:"archive_open"`
	Checks     []preflight.Result     `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, input backlog and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := buildStatus(cmd, ctx, cfg)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, report)
			}
			printStatus(cmd, cfg, report)
			return nil
		},
	}
}

func buildStatus(cmd *cobra.Command, ctx *commandContext, cfg *config.Config) (statusReport, error) {
	report := statusReport{
		ConfigPath: ctx.configPath,
		Waiting:    make(map[string]int),
		Checks:     preflight.RunAll(cfg),
	}
	running, err := daemon.Locked(cfg)
	if err != nil {
		return report, err
	}
	report.Running = running

	for cam := 1; cam <= 2; cam++ {
		stream := cfg.CameraStream(cam)
		paths, err := scanner.Candidates(cfg.Paths.DataRoot, stream)
		if err != nil {
			return report, fmt.Errorf("list %s: %w", stream, err)
		}
		report.Waiting[stream] = len(paths)
	}

	window := archive.Window{Start: cfg.Archive.WindowStartMinute, Stop: cfg.Archive.WindowStopMinute}
	report.Archive = window.String()
	report.ArchiveNow = window.Open(time.Now())

	err = ctx.withLedger(func(store *ledger.Store) error {
		counts, err := store.Counts(cmd.Context(), time.Now().Add(-24*time.Hour))
		report.Decisions = counts
		return err
	})
	return report, err
}

// grade ranks a status row. The zero value is informational.
type grade int

const (
	gradeInfo grade = iota
	gradeOK
	gradeWarn
	gradeFail
)

func (g grade) mark() string {
	switch g {
	case gradeOK:
		return "ok"
	case gradeWarn:
		return "warn"
	case gradeFail:
		return "FAIL"
	default:
		return "--"
	}
}

func (g grade) colors() text.Colors {
	switch g {
	case gradeOK:
		return text.Colors{text.FgGreen}
	case gradeWarn:
		return text.Colors{text.FgYellow}
	case gradeFail:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgHiBlack}
	}
}

type statusRow struct {
	label  string
	grade  grade
	detail string
}

type statusSection struct {
	title string
	rows  []statusRow
}

// outcomeGrade flags the decisions that cost frames.
func outcomeGrade(o ledger.Outcome) grade {
	switch o {
	case ledger.OutcomeBad, ledger.OutcomeVanished:
		return gradeWarn
	case ledger.OutcomeSynced, ledger.OutcomeFlushed:
		return gradeOK
	default:
		return gradeInfo
	}
}

func checkGrade(r preflight.Result) grade {
	switch {
	case r.Passed:
		return gradeOK
	case r.Optional:
		return gradeWarn
	default:
		return gradeFail
	}
}

func statusSections(cfg *config.Config, report statusReport) []statusSection {
	daemonRows := []statusRow{{"daemon", gradeWarn, "not running"}}
	if report.Running {
		daemonRows[0] = statusRow{"daemon", gradeOK, "running"}
	}
	if report.ConfigPath != "" {
		daemonRows = append(daemonRows, statusRow{"config", gradeInfo, report.ConfigPath})
	}
	daemonRows = append(daemonRows, statusRow{"data root", gradeInfo, cfg.Paths.DataRoot})

	var backlog []statusRow
	for cam := 1; cam <= 2; cam++ {
		stream := cfg.CameraStream(cam)
		n := report.Waiting[stream]
		g := gradeOK
		if n > 0 {
			g = gradeInfo
		}
		backlog = append(backlog, statusRow{stream, g, fmt.Sprintf("%d waiting", n)})
	}
	archiveMsg := "window " + report.Archive + ", closed"
	if report.ArchiveNow {
		archiveMsg = "window " + report.Archive + ", open"
	}
	if len(cfg.Archive.Tiers) == 0 {
		archiveMsg = "no tiers configured"
	}
	backlog = append(backlog, statusRow{"archive", gradeInfo, archiveMsg})

	var decisions []statusRow
	for _, outcome := range ledger.Outcomes {
		if n, ok := report.Decisions[outcome]; ok {
			decisions = append(decisions, statusRow{string(outcome), outcomeGrade(outcome), fmt.Sprintf("%d", n)})
		}
	}
	if len(decisions) == 0 {
		decisions = append(decisions, statusRow{"ledger", gradeInfo, "no decisions recorded"})
	}

	var checks []statusRow
	for _, r := range report.Checks {
		checks = append(checks, statusRow{r.Name, checkGrade(r), r.Detail})
	}

	return []statusSection{
		{"daemon", daemonRows},
		{"backlog", backlog},
		{"decisions (24h)", decisions},
		{"checks", checks},
	}
}

// writeStatus prints sections as aligned label/grade/detail columns.
func writeStatus(w io.Writer, sections []statusSection, colorize bool) {
	width := 0
	for _, s := range sections {
		for _, r := range s.rows {
			width = max(width, len(r.label))
		}
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		title := strings.ToUpper(s.title)
		if colorize {
			title = text.Bold.Sprint(title)
		}
		fmt.Fprintln(w, title)
		for _, r := range s.rows {
			mark := fmt.Sprintf("%-4s", r.grade.mark())
			if colorize {
				mark = r.grade.colors().Sprint(mark)
			}
			fmt.Fprintf(w, "  %-*s  %s  %s\n", width, r.label, mark, r.detail)
		}
	}
}

func printStatus(cmd *cobra.Command, cfg *config.Config, report statusReport) {
	out := cmd.OutOrStdout()
	writeStatus(out, statusSections(cfg, report), isTerminal(out))
}
