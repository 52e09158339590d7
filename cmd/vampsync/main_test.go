package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vampsync/internal/config"
	"vampsync/internal/ledger"
	"vampsync/internal/testsupport"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	path := filepath.Join(testsupport.BaseDir(cfg), "vampsync.toml")
	content := fmt.Sprintf("[paths]\ndata_root = %q\nlog_dir = %q\nstate_dir = %q\n",
		cfg.Paths.DataRoot, cfg.Paths.LogDir, cfg.Paths.StateDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: path}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func writePair(t *testing.T, cfg *config.Config) string {
	t.Helper()
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
	first := testsupport.WriteFrameFile(t, testsupport.FrameSpec{
		Root: cfg.Paths.DataRoot, Stream: cfg.CameraStream(1), TimesUS: times,
	})
	other := make([]float64, len(times))
	for i, v := range times {
		other[i] = v + 10
	}
	testsupport.WriteFrameFile(t, testsupport.FrameSpec{
		Root: cfg.Paths.DataRoot, Stream: cfg.CameraStream(2), TimesUS: other,
	})
	return first
}

func TestConfigInitValidateShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.cfg.Paths.DataRoot)
	requireContains(t, out, "tolerance_us")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
}

func TestInspectFrameFile(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writePair(t, env.cfg)

	out, _, err := runCLI(t, []string{"inspect", "--header", path}, "")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	requireContains(t, out, "Frames\t5")
	requireContains(t, out, "Start\t2024-05-01 11:59:59.999000")
	requireContains(t, out, "Timing stamps\t5")
	requireContains(t, out, "EXPTIME\t0.001")
}

func TestSyncOnceThenLedger(t *testing.T) {
	env := setupCLITestEnv(t)
	writePair(t, env.cfg)

	out, _, err := runCLI(t, []string{"sync-once", "--settle", "0s"}, env.configPath)
	if err != nil {
		t.Fatalf("sync-once: %v", err)
	}
	requireContains(t, out, "flushed 1 synchronized pairs")

	out, _, err = runCLI(t, []string{"--json", "ledger", "counts", "--since", "0"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger counts: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode counts %q: %v", out, err)
	}
	if counts["synced"] != 2 || counts["flushed"] != 2 {
		t.Fatalf("counts = %v, want 2 synced and 2 flushed", counts)
	}

	out, _, err = runCLI(t, []string{"ledger", "recent", "--outcome", "flushed"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger recent: %v", err)
	}
	requireContains(t, out, "Time\tCam\tOutcome")
	requireContains(t, out, ".cam1.fits")
	requireContains(t, out, ".cam2.fits")

	if _, _, err := runCLI(t, []string{"ledger", "recent", "--outcome", "lost"}, env.configPath); err == nil {
		t.Fatal("expected an unknown outcome to be rejected")
	}
}

func TestStagingListAndClean(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := filepath.Join(env.cfg.Paths.DataRoot, "20240501", env.cfg.SyncStream())
	testsupport.WriteFile(t, filepath.Join(dir, "tmp", "vcam1_12:00:00.000000.fits"), 2880)
	testsupport.WriteFile(t, filepath.Join(dir, "vcam1_12:00:01.000000.fits.1714564800000000000"), 2880)

	out, _, err := runCLI(t, []string{"staging", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	requireContains(t, out, "staged")
	requireContains(t, out, "half-deleted")
	requireContains(t, out, "Total: 2 leftovers")

	out, _, err = runCLI(t, []string{"staging", "clean"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean: %v", err)
	}
	requireContains(t, out, "Removed 1 leftovers")

	out, _, err = runCLI(t, []string{"staging", "clean", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean --all: %v", err)
	}
	requireContains(t, out, "Removed 1 leftovers")
}

func TestStatusReportsBacklog(t *testing.T) {
	env := setupCLITestEnv(t)
	writePair(t, env.cfg)

	out, _, err := runCLI(t, []string{"--json", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	if report.Running {
		t.Fatal("daemon reported running")
	}
	if report.Waiting[env.cfg.CameraStream(1)] != 1 || report.Waiting[env.cfg.CameraStream(2)] != 1 {
		t.Fatalf("waiting = %v", report.Waiting)
	}
	if report.Archive != "always" {
		t.Fatalf("archive window = %q", report.Archive)
	}
}

func TestStatusTextGradesRows(t *testing.T) {
	env := setupCLITestEnv(t)
	writePair(t, env.cfg)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"DAEMON", "BACKLOG", "DECISIONS (24H)", "CHECKS", "warn  not running", "1 waiting", "no decisions recorded"} {
		requireContains(t, out, want)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colors written to a non-terminal: %q", out)
	}
}

func TestWriteStatusAlignsAndGrades(t *testing.T) {
	sections := []statusSection{{
		title: "decisions (24h)",
		rows: []statusRow{
			{string(ledger.OutcomeFlushed), outcomeGrade(ledger.OutcomeFlushed), "12"},
			{string(ledger.OutcomeBad), outcomeGrade(ledger.OutcomeBad), "1"},
			{string(ledger.OutcomeRequeued), outcomeGrade(ledger.OutcomeRequeued), "3"},
		},
	}}
	var buf bytes.Buffer
	writeStatus(&buf, sections, false)

	want := "DECISIONS (24H)\n" +
		"  flushed   ok    12\n" +
		"  bad       warn  1\n" +
		"  requeued  --    3\n"
	if buf.String() != want {
		t.Fatalf("status text = %q, want %q", buf.String(), want)
	}
}
