package synchro_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vampsync/internal/config"
	"vampsync/internal/fits"
	"vampsync/internal/frames"
	"vampsync/internal/ledger"
	"vampsync/internal/synchro"
	"vampsync/internal/testsupport"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const dateDir = "20240501"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type recorder struct{ decisions []ledger.Decision }

func (r *recorder) Record(_ context.Context, d ledger.Decision) error {
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *recorder) outcomes(camera int) []ledger.Outcome {
	var out []ledger.Outcome
	for _, d := range r.decisions {
		if d.Camera == camera {
			out = append(out, d.Outcome)
		}
	}
	return out
}

type harness struct {
	cfg   *config.Config
	sync  *synchro.Synchronizer
	clock *fakeClock
	rec   *recorder
}

func newHarness(t *testing.T, tune func(*synchro.Config)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	sc := synchro.ConfigFromConfig(cfg)
	if tune != nil {
		tune(&sc)
	}
	h := &harness{cfg: cfg, clock: &fakeClock{now: base}, rec: &recorder{}}
	h.sync = synchro.New(sc, synchro.WithClock(h.clock.Now), synchro.WithRecorder(h.rec))
	return h
}

func (h *harness) write(t *testing.T, camera int, times []float64, mod func(*testsupport.FrameSpec)) string {
	t.Helper()
	spec := testsupport.FrameSpec{
		Root:    h.cfg.Paths.DataRoot,
		Stream:  h.cfg.CameraStream(camera),
		TimesUS: times,
	}
	if mod != nil {
		mod(&spec)
	}
	return testsupport.WriteFrameFile(t, spec)
}

func (h *harness) feed(t *testing.T, paths ...string) {
	t.Helper()
	var files []*frames.File
	for _, p := range paths {
		f, err := frames.Load(p)
		if err != nil {
			t.Fatalf("Load %s: %v", p, err)
		}
		files = append(files, f)
	}
	if err := h.sync.Feed(context.Background(), files); err != nil {
		t.Fatalf("Feed: %v", err)
	}
}

func (h *harness) process(t *testing.T) synchro.Stats {
	t.Helper()
	stats, err := h.sync.ProcessQueues(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueues: %v", err)
	}
	return stats
}

func (h *harness) streamDir(stream string) string {
	return filepath.Join(h.cfg.Paths.DataRoot, dateDir, stream)
}

func listFits(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.fits"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	var names []string
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names
}

func shifted(times []float64, us float64) []float64 {
	out := slices.Clone(times)
	for i := range out {
		out[i] += us
	}
	return out
}

func mustLoad(t *testing.T, path string) *frames.File {
	t.Helper()
	f, err := frames.Load(path)
	if err != nil {
		t.Fatalf("Load %s: %v", path, err)
	}
	return f
}

func TestLoneFileWaitsThenGoesSolo(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, 1, testsupport.TimesFrom(base, 10*time.Millisecond, 5), nil)
	h.feed(t, path)

	h.clock.now = base.Add(10 * time.Second)
	if stats := h.process(t); stats.Steps != 0 {
		t.Fatalf("steps = %d, want 0 while waiting for a partner", stats.Steps)
	}
	if diff := cmp.Diff([2]int{1, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("waiting file should stay in place: %v", err)
	}

	h.clock.now = base.Add(61 * time.Second)
	h.process(t)
	soloPath := filepath.Join(h.streamDir(h.cfg.SoloStream(1)), filepath.Base(path))
	solo := mustLoad(t, soloPath)
	if v, ok := solo.Header().Bool(frames.KeySynchro); !ok || v {
		t.Fatalf("SYNCHRO = %v (present %v), want false", v, ok)
	}
	if !solo.HasTiming() {
		t.Fatal("timing sidecar should move with the file")
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSolo}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestFullMatchFlushesAlignedPair(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base.Add(100*time.Millisecond), 10*time.Millisecond, 10)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times, 20), nil)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(5 * time.Second)
	stats := h.process(t)
	if stats.Flushed != 0 || h.sync.PendingOutputs() != 1 {
		t.Fatalf("stats %+v pending %d, want pair held in memory", stats, h.sync.PendingOutputs())
	}
	for _, p := range []string{p1, p2} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("consumed source %s still present: %v", p, err)
		}
	}

	h.clock.now = base.Add(time.Minute)
	if stats := h.process(t); stats.Flushed != 1 {
		t.Fatalf("flushed = %d, want 1 after idle timeout", stats.Flushed)
	}

	want := []string{"vcam1_12:00:00.100010.cam1.fits", "vcam2_12:00:00.100010.cam2.fits"}
	if diff := cmp.Diff(want, listFits(t, h.streamDir(h.cfg.SyncStream()))); diff != "" {
		t.Fatalf("sync stream mismatch (-want +got):\n%s", diff)
	}
	mid := shifted(times, 10)
	for _, name := range want {
		f := mustLoad(t, filepath.Join(h.streamDir(h.cfg.SyncStream()), name))
		if f.Frames() != 10 {
			t.Fatalf("%s frames = %d, want 10", name, f.Frames())
		}
		if diff := cmp.Diff(mid, f.Timing().FrameTimesUS()); diff != "" {
			t.Fatalf("%s times mismatch (-want +got):\n%s", name, diff)
		}
		if v, ok := f.Header().Bool(frames.KeySynchro); !ok || !v {
			t.Fatalf("%s SYNCHRO = %v, want true", name, v)
		}
	}
	wantOutcomes := []ledger.Outcome{ledger.OutcomeSynced, ledger.OutcomeFlushed}
	for camera := 1; camera <= 2; camera++ {
		if diff := cmp.Diff(wantOutcomes, h.rec.outcomes(camera)); diff != "" {
			t.Fatalf("camera %d decisions mismatch (-want +got):\n%s", camera, diff)
		}
	}
}

func TestBadFilesAreQuarantined(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*testsupport.FrameSpec)
	}{
		{"stamp count differs from frames", func(s *testsupport.FrameSpec) { s.Frames = 5 }},
		{"no timing sidecar", func(s *testsupport.FrameSpec) { s.NoTiming = true }},
		{"no exposure time", func(s *testsupport.FrameSpec) { s.ExpTime = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			path := h.write(t, 1, testsupport.TimesFrom(base, 10*time.Millisecond, 4), tt.mod)
			h.feed(t, path)
			h.process(t)

			if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.BadStream()), filepath.Base(path))); err != nil {
				t.Fatalf("file not quarantined: %v", err)
			}
			if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeBad}, h.rec.outcomes(1)); diff != "" {
				t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// truncateData cuts a synthetic cube to its header block plus one frame
// row, the way a crashed writer leaves it. The header still parses.
func truncateData(t *testing.T, path string) {
	t.Helper()
	if err := os.Truncate(path, fits.BlockSize+16); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}

func TestTruncatedCubeIsQuarantinedAndPartnerKept(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times, 20), nil)
	truncateData(t, p1)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(5 * time.Second)
	if _, err := h.sync.ProcessQueues(context.Background()); err != nil {
		t.Fatalf("ProcessQueues: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.BadStream()), filepath.Base(p1))); err != nil {
		t.Fatalf("truncated file not quarantined: %v", err)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeBad}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("camera 1 decisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([2]int{0, 1}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(p2); err != nil {
		t.Fatalf("partner should stay in place: %v", err)
	}
	if got := h.rec.outcomes(2); len(got) != 0 {
		t.Fatalf("partner was classified: %v", got)
	}
}

func TestTruncatedSoloFileIsQuarantined(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, 2, testsupport.TimesFrom(base, 10*time.Millisecond, 5), func(s *testsupport.FrameSpec) { s.Untriggered = true })
	truncateData(t, path)
	h.feed(t, path)

	if _, err := h.sync.ProcessQueues(context.Background()); err != nil {
		t.Fatalf("ProcessQueues: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.BadStream()), filepath.Base(path))); err != nil {
		t.Fatalf("truncated file not quarantined: %v", err)
	}
	if got := listFits(t, h.streamDir(h.cfg.SoloStream(2))); len(got) != 0 {
		t.Fatalf("solo stream holds %v", got)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeBad}, h.rec.outcomes(2)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestTrivialFilesGoSolo(t *testing.T) {
	tests := []struct {
		name  string
		times []float64
		mod   func(*testsupport.FrameSpec)
	}{
		{"untriggered", testsupport.TimesFrom(base, 10*time.Millisecond, 5), func(s *testsupport.FrameSpec) { s.Untriggered = true }},
		{"single frame", testsupport.TimesFrom(base, 10*time.Millisecond, 1), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			path := h.write(t, 2, tt.times, tt.mod)
			h.feed(t, path)
			h.process(t)

			if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.SoloStream(2)), filepath.Base(path))); err != nil {
				t.Fatalf("file not moved to solo stream: %v", err)
			}
			if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSolo}, h.rec.outcomes(2)); diff != "" {
				t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTrivialCandidateRequeuesEarliest(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times, 20), func(s *testsupport.FrameSpec) { s.Untriggered = true })
	h.feed(t, p1, p2)

	h.clock.now = base.Add(time.Second)
	h.process(t)
	if diff := cmp.Diff([2]int{1, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(p1); err != nil {
		t.Fatalf("earliest file should be requeued untouched: %v", err)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSolo}, h.rec.outcomes(2)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestNonOverlappingFileGoesSolo(t *testing.T) {
	h := newHarness(t, nil)
	p1 := h.write(t, 1, testsupport.TimesFrom(base, 10*time.Millisecond, 5), nil)
	p2 := h.write(t, 2, testsupport.TimesFrom(base.Add(5*time.Second), 10*time.Millisecond, 5), nil)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(6 * time.Second)
	h.process(t)
	if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.SoloStream(1)), filepath.Base(p1))); err != nil {
		t.Fatalf("earlier file should go solo: %v", err)
	}
	if _, err := os.Stat(p2); err != nil {
		t.Fatalf("later file should keep waiting: %v", err)
	}
}

func TestUnpairedOverlapSettlesEarlierFileOnly(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times, 5000), nil)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(time.Second)
	h.process(t)
	if _, err := os.Stat(filepath.Join(h.streamDir(h.cfg.SoloStream(1)), filepath.Base(p1))); err != nil {
		t.Fatalf("earlier file should go solo: %v", err)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSolo}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("camera 1 decisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([2]int{0, 1}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(p2); err != nil {
		t.Fatalf("later file should wait in place: %v", err)
	}
	if got := h.rec.outcomes(2); len(got) != 0 {
		t.Fatalf("later file was classified: %v", got)
	}
	h.clock.now = base.Add(2 * time.Hour)
	if n := h.sync.PruneSeen(time.Hour); n != 0 {
		t.Fatalf("seen set holds %d entries, want none", n)
	}
}

func TestPartialMatchRequeuesRemainderOnce(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 10)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times[:5], 20), nil)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(time.Second)
	h.process(t)

	remainder := filepath.Join(h.streamDir(h.cfg.CameraStream(1)), "vcam1_12:00:00.050000.fits")
	if f := mustLoad(t, remainder); f.Frames() != 5 {
		t.Fatalf("remainder frames = %d, want 5", f.Frames())
	}
	if _, err := os.Stat(p1); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("original should be deleted: %v", err)
	}
	if diff := cmp.Diff([2]int{1, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSynced, ledger.OutcomeRequeued}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}

	// A later partner pairs the tail of the remainder; its head has been
	// retried already and goes solo.
	p3 := h.write(t, 2, shifted(times[7:], 20), nil)
	h.feed(t, p3)
	h.process(t)

	solo := filepath.Join(h.streamDir(h.cfg.SoloStream(1)), "vcam1_12:00:00.050000.fits")
	f := mustLoad(t, solo)
	if f.Frames() != 2 {
		t.Fatalf("solo remainder frames = %d, want 2", f.Frames())
	}
	if v, ok := f.Header().Bool(frames.KeySynchro); !ok || v {
		t.Fatalf("SYNCHRO = %v, want false", v)
	}
	if _, err := os.Stat(remainder); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("requeued remainder should be consumed: %v", err)
	}
	if diff := cmp.Diff([2]int{0, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
}

func TestNearlyFullMatchDiscardsRemainder(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 40)
	p1 := h.write(t, 1, times, nil)
	p2 := h.write(t, 2, shifted(times[:39], 20), nil)
	h.feed(t, p1, p2)

	h.clock.now = base.Add(time.Second)
	h.process(t)
	if got := listFits(t, h.streamDir(h.cfg.CameraStream(1))); len(got) != 0 {
		t.Fatalf("camera 1 stream should be empty, got %v", got)
	}
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeSynced, ledger.OutcomeDiscarded}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestLongPairIsSplitAtMaxSpan(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, time.Second, 13)
	h.feed(t, h.write(t, 1, times, nil), h.write(t, 2, shifted(times, 20), nil))

	h.clock.now = base.Add(13 * time.Second)
	if stats := h.process(t); stats.Flushed != 1 {
		t.Fatalf("flushed = %d, want 1", stats.Flushed)
	}
	if h.sync.PendingOutputs() != 1 {
		t.Fatalf("pending = %d, want the 3 frame tail", h.sync.PendingOutputs())
	}
	if n, err := h.sync.FlushAll(context.Background()); err != nil || n != 1 {
		t.Fatalf("FlushAll = %d, %v", n, err)
	}

	dir := h.streamDir(h.cfg.SyncStream())
	want := []string{
		"vcam1_12:00:00.000010.cam1.fits",
		"vcam1_12:00:10.000010.cam1.fits",
		"vcam2_12:00:00.000010.cam2.fits",
		"vcam2_12:00:10.000010.cam2.fits",
	}
	if diff := cmp.Diff(want, listFits(t, dir)); diff != "" {
		t.Fatalf("sync stream mismatch (-want +got):\n%s", diff)
	}
	for name, n := range map[string]int{want[0]: 10, want[1]: 3, want[2]: 10, want[3]: 3} {
		if got := mustLoad(t, filepath.Join(dir, name)).Frames(); got != n {
			t.Fatalf("%s frames = %d, want %d", name, got, n)
		}
	}
}

func TestAdjacentPairsMerge(t *testing.T) {
	tests := []struct {
		name   string
		second func(*testsupport.FrameSpec)
		files  int
	}{
		{name: "same settings", files: 2},
		{name: "different exposure", second: func(s *testsupport.FrameSpec) { s.ExpTime = 0.002 }, files: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			first := testsupport.TimesFrom(base, 100*time.Millisecond, 5)
			second := testsupport.TimesFrom(base.Add(1400*time.Millisecond), 100*time.Millisecond, 5)
			h.feed(t,
				h.write(t, 1, first, nil),
				h.write(t, 2, shifted(first, 20), nil),
				h.write(t, 1, second, tt.second),
				h.write(t, 2, shifted(second, 20), tt.second),
			)

			h.clock.now = base.Add(3 * time.Second)
			h.process(t)
			if _, err := h.sync.FlushAll(context.Background()); err != nil {
				t.Fatalf("FlushAll: %v", err)
			}
			got := listFits(t, h.streamDir(h.cfg.SyncStream()))
			if len(got) != tt.files {
				t.Fatalf("sync stream holds %v, want %d files", got, tt.files)
			}
			if tt.files == 2 {
				f := mustLoad(t, filepath.Join(h.streamDir(h.cfg.SyncStream()), got[0]))
				if f.Frames() != 10 || f.Timing().Len() != 10 {
					t.Fatalf("merged file has %d frames, %d stamps", f.Frames(), f.Timing().Len())
				}
			}
		})
	}
}

func TestBlockedSyncStreamKeepsPairsPending(t *testing.T) {
	h := newHarness(t, nil)
	first := testsupport.TimesFrom(base, 100*time.Millisecond, 5)
	second := testsupport.TimesFrom(base.Add(10*time.Second), 100*time.Millisecond, 5)
	h.feed(t,
		h.write(t, 1, first, nil),
		h.write(t, 2, shifted(first, 20), nil),
		h.write(t, 1, second, nil),
		h.write(t, 2, shifted(second, 20), nil),
	)
	syncDir := h.streamDir(h.cfg.SyncStream())
	if err := os.WriteFile(syncDir, []byte("not a folder"), 0o644); err != nil {
		t.Fatal(err)
	}

	h.clock.now = base.Add(11 * time.Second)
	if _, err := h.sync.ProcessQueues(context.Background()); err == nil {
		t.Fatal("ProcessQueues succeeded with the sync stream blocked")
	}
	if got := h.sync.PendingOutputs(); got != 2 {
		t.Fatalf("pending = %d after failed write, want 2", got)
	}
	if _, err := h.sync.FlushAll(context.Background()); err == nil {
		t.Fatal("FlushAll succeeded with the sync stream blocked")
	}
	if got := h.sync.PendingOutputs(); got != 2 {
		t.Fatalf("pending = %d after failed FlushAll, want 2", got)
	}

	if err := os.Remove(syncDir); err != nil {
		t.Fatal(err)
	}
	flushed, err := h.sync.FlushAll(context.Background())
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if flushed != 2 || h.sync.PendingOutputs() != 0 {
		t.Fatalf("flushed %d, pending %d, want 2 and 0", flushed, h.sync.PendingOutputs())
	}
	if got := listFits(t, syncDir); len(got) != 4 {
		t.Fatalf("sync stream holds %v, want 4 files", got)
	}
}

func TestReadoutToleranceWidensWindow(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		synced bool
	}{
		{"fixed tolerance misses", config.ToleranceFixed, false},
		{"readout tolerance pairs", config.ToleranceReadout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *synchro.Config) {
				c.ToleranceMode = tt.mode
				c.LineTimeUS = 10
				c.Match.Adaptive = false
			})
			rows := func(s *testsupport.FrameSpec) { s.Cards = map[string]any{frames.KeyReadoutRows: 128} }
			times := testsupport.TimesFrom(base, 10*time.Millisecond, 5)
			h.feed(t, h.write(t, 1, times, rows), h.write(t, 2, shifted(times, 500), rows))

			h.clock.now = base.Add(time.Second)
			h.process(t)
			want := []ledger.Outcome{ledger.OutcomeSolo}
			if tt.synced {
				want = []ledger.Outcome{ledger.OutcomeSynced}
			}
			if diff := cmp.Diff(want, h.rec.outcomes(1)); diff != "" {
				t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVanishedFileIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, 1, testsupport.TimesFrom(base, 10*time.Millisecond, 5), nil)
	h.feed(t, path)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.process(t)
	if diff := cmp.Diff([]ledger.Outcome{ledger.OutcomeVanished}, h.rec.outcomes(1)); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([2]int{0, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedRejectsForeignStreamsAndDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	path := h.write(t, 1, testsupport.TimesFrom(base, 10*time.Millisecond, 5), nil)
	foreign := testsupport.WriteFrameFile(t, testsupport.FrameSpec{
		Root:    h.cfg.Paths.DataRoot,
		Stream:  h.cfg.SyncStream(),
		TimesUS: testsupport.TimesFrom(base, 10*time.Millisecond, 5),
	})

	h.feed(t, path)
	err := h.sync.Feed(context.Background(), []*frames.File{mustLoad(t, path), mustLoad(t, foreign)})
	if !errors.Is(err, synchro.ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream, got %v", err)
	}
	if diff := cmp.Diff([2]int{1, 0}, h.sync.QueueDepths()); diff != "" {
		t.Fatalf("queue depths mismatch (-want +got):\n%s", diff)
	}
}

func TestPruneSeen(t *testing.T) {
	h := newHarness(t, nil)
	times := testsupport.TimesFrom(base, 10*time.Millisecond, 10)
	h.feed(t, h.write(t, 1, times, nil), h.write(t, 2, shifted(times[:5], 20), nil))
	h.clock.now = base.Add(time.Second)
	h.process(t)

	if n := h.sync.PruneSeen(time.Hour); n != 0 {
		t.Fatalf("pruned %d fresh entries", n)
	}
	h.clock.now = base.Add(2 * time.Hour)
	if n := h.sync.PruneSeen(time.Hour); n != 1 {
		t.Fatalf("pruned %d entries, want 1", n)
	}
}
