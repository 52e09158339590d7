package daemon_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vampsync/internal/config"
	"vampsync/internal/daemon"
	"vampsync/internal/ledger"
	"vampsync/internal/testsupport"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *ledger.Store) {
	t.Helper()
	store := testsupport.MustOpenLedger(t, cfg)
	d, err := daemon.New(cfg, store, nil, daemon.WithSettleTime(0))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, store
}

func writePair(t *testing.T, cfg *config.Config) {
	t.Helper()
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
	testsupport.WriteFrameFile(t, testsupport.FrameSpec{
		Root: cfg.Paths.DataRoot, Stream: cfg.CameraStream(1), TimesUS: times,
	})
	other := make([]float64, len(times))
	for i, v := range times {
		other[i] = v + 10
	}
	testsupport.WriteFrameFile(t, testsupport.FrameSpec{
		Root: cfg.Paths.DataRoot, Stream: cfg.CameraStream(2), TimesUS: other,
	})
}

func syncedFiles(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(cfg.Paths.DataRoot, "20240501", cfg.SyncStream(), "*.fits"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, _ := newDaemon(t, cfg)
	if err := other.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("second instance Start = %v, want ErrAlreadyRunning", err)
	}
	if locked, err := daemon.Locked(cfg); err != nil || !locked {
		t.Fatalf("Locked = %v, %v; want true", locked, err)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if locked, err := daemon.Locked(cfg); err != nil || locked {
		t.Fatalf("Locked after stop = %v, %v; want false", locked, err)
	}
}

func TestStartFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithArchiveTier("missing"))
	d, _ := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail with a missing archive tier")
	}
	if locked, _ := daemon.Locked(cfg); locked {
		t.Fatal("lock still held after failed start")
	}
}

func TestRunOnceSynchronizesPair(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store := newDaemon(t, cfg)
	writePair(t, cfg)

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := syncedFiles(t, cfg); len(got) != 2 {
		t.Fatalf("synced files = %v, want 2", got)
	}
	for cam := 1; cam <= 2; cam++ {
		left, _ := filepath.Glob(filepath.Join(cfg.Paths.DataRoot, "20240501", cfg.CameraStream(cam), "*.fits"))
		if len(left) != 0 {
			t.Fatalf("camera %d inputs left behind: %v", cam, left)
		}
	}

	counts, err := store.Counts(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[ledger.OutcomeSynced] != 2 || counts[ledger.OutcomeFlushed] != 2 {
		t.Fatalf("ledger counts = %v, want 2 synced and 2 flushed", counts)
	}
	status := d.Status(context.Background())
	if status.Passes != 1 || status.LastPassID == "" {
		t.Fatalf("status = %+v, want one recorded pass", status)
	}
	if status.PendingOutputs != 0 {
		t.Fatalf("pending outputs = %d after RunOnce", status.PendingOutputs)
	}
}

func TestStartedDaemonSynchronizesWaitingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollIntervalSeconds = 1
	d, _ := newDaemon(t, cfg)
	writePair(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for len(syncedFiles(t, cfg)) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("synchronized output never appeared; status %+v", d.Status(context.Background()))
		}
		time.Sleep(100 * time.Millisecond)
	}
	d.Stop()
	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if err := d.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}
