package synchro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"vampsync/internal/frames"
	"vampsync/internal/ledger"
	"vampsync/internal/logging"
	"vampsync/internal/metrics"
)

// ErrUnknownStream reports a file fed from a folder that is neither camera stream.
var ErrUnknownStream = errors.New("file is not in a camera stream")

// Recorder persists classification decisions. Failures are logged and do
// not stop synchronization.
type Recorder interface {
	Record(ctx context.Context, d ledger.Decision) error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithRecorder records every decision.
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) { s.recorder = r }
}

// WithMetrics publishes decision counters and queue depths.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithClock replaces time.Now for idle timeouts and the seen set.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = logging.NewComponentLogger(logger, "synchro") }
}

type entry struct {
	file  *frames.File
	start time.Time
}

// Stats summarizes one ProcessQueues call.
type Stats struct {
	Steps   int
	Flushed int
}

// Synchronizer pairs files of two camera streams. It is not safe for
// concurrent use.
type Synchronizer struct {
	cfg    Config
	queues [2][]entry
	acc    accumulator
	seen   map[string]time.Time

	recorder Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// New returns an idle synchronizer.
func New(cfg Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cfg:  cfg,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewComponentLogger(nil, "synchro")
	}
	if s.cfg.Throttle <= 0 {
		s.cfg.Throttle = 1
	}
	return s
}

// Feed enqueues files by stream folder. Files already queued are skipped.
// A file in any other folder yields ErrUnknownStream; the rest are still fed.
func (s *Synchronizer) Feed(ctx context.Context, files []*frames.File) error {
	var errs []error
	touched := [2]bool{}
	for _, f := range files {
		cam, ok := s.cameraOf(f)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownStream, f.Path()))
			continue
		}
		if s.queued(f.Path()) {
			continue
		}
		start, ok := f.StartTime()
		if !ok {
			if err := s.quarantine(ctx, cam, f, "no start time"); err != nil {
				return err
			}
			continue
		}
		s.queues[cam] = append(s.queues[cam], entry{file: f, start: start})
		touched[cam] = true
		logging.WithContext(ctx, s.logger).Debug("frame file queued",
			logging.String(logging.FieldPath, f.Path()),
			logging.Int(logging.FieldCamera, cam+1),
		)
	}
	for cam, t := range touched {
		if t {
			s.sortQueue(cam)
		}
	}
	s.publishDepths()
	return errors.Join(errs...)
}

func (s *Synchronizer) cameraOf(f *frames.File) (int, bool) {
	for i, name := range s.cfg.Cameras {
		if f.Stream() == name {
			return i, true
		}
	}
	return 0, false
}

func (s *Synchronizer) queued(path string) bool {
	for _, q := range s.queues {
		for _, e := range q {
			if e.file.Path() == path {
				return true
			}
		}
	}
	return false
}

func (s *Synchronizer) sortQueue(cam int) {
	slices.SortStableFunc(s.queues[cam], func(a, b entry) int {
		return a.start.Compare(b.start)
	})
}

func (s *Synchronizer) enqueue(cam int, f *frames.File) {
	start, _ := f.StartTime()
	s.queues[cam] = append(s.queues[cam], entry{file: f, start: start})
	s.sortQueue(cam)
}

func (s *Synchronizer) pushFront(cam int, e entry) {
	s.queues[cam] = slices.Insert(s.queues[cam], 0, e)
}

// popEarliest removes the file with the smallest start time. Camera 1 wins ties.
func (s *Synchronizer) popEarliest() (entry, int, bool) {
	q1, q2 := s.queues[0], s.queues[1]
	var cam int
	switch {
	case len(q1) == 0 && len(q2) == 0:
		return entry{}, 0, false
	case len(q2) == 0:
		cam = 0
	case len(q1) == 0:
		cam = 1
	case q2[0].start.Before(q1[0].start):
		cam = 1
	default:
		cam = 0
	}
	e := s.queues[cam][0]
	s.queues[cam] = s.queues[cam][1:]
	return e, cam, true
}

// QueueDepths returns the input queue lengths of camera 1 and 2.
func (s *Synchronizer) QueueDepths() [2]int {
	return [2]int{len(s.queues[0]), len(s.queues[1])}
}

// PendingOutputs returns the number of synchronized pairs not yet on disk.
func (s *Synchronizer) PendingOutputs() int {
	return s.acc.pairs()
}

// ProcessOnce performs one state-machine step and reports whether it made
// progress. Storage failures are returned; classification outcomes are not
// errors.
func (s *Synchronizer) ProcessOnce(ctx context.Context) (bool, error) {
	e, cam, ok := s.popEarliest()
	if !ok {
		return false, nil
	}
	f := e.file
	if !f.Exists() {
		s.record(ctx, cam, f, ledger.OutcomeVanished, "file disappeared before processing")
		return true, nil
	}
	if reason := badReason(f); reason != "" {
		return true, s.quarantine(ctx, cam, f, reason)
	}
	if reason := trivialReason(f); reason != "" {
		return true, s.solo(ctx, cam, f, reason)
	}

	other := 1 - cam
	finish, _ := f.FinishTime()
	if len(s.queues[other]) == 0 {
		if idle := s.now().Sub(finish); idle > s.cfg.IdleSolo {
			return true, s.solo(ctx, cam, f, fmt.Sprintf("no file on the other camera for %s", idle.Round(time.Second)))
		}
		s.pushFront(cam, e)
		return false, nil
	}

	cand := s.queues[other][0]
	if cand.start.After(finish) {
		return true, s.solo(ctx, cam, f, "no temporally overlapping file on the other camera")
	}
	s.queues[other] = s.queues[other][1:]

	cf := cand.file
	switch {
	case !cf.Exists():
		s.record(ctx, other, cf, ledger.OutcomeVanished, "file disappeared before processing")
		s.pushFront(cam, e)
		return true, nil
	case badReason(cf) != "":
		s.pushFront(cam, e)
		return true, s.quarantine(ctx, other, cf, badReason(cf))
	case trivialReason(cf) != "":
		s.pushFront(cam, e)
		return true, s.solo(ctx, other, cf, trivialReason(cf))
	}

	var matched [2]entry
	matched[cam], matched[other] = e, cand
	return true, s.resync(ctx, matched)
}

// ProcessQueues drains the input queues, then services the accumulator,
// each for at most Throttle steps.
func (s *Synchronizer) ProcessQueues(ctx context.Context) (Stats, error) {
	var stats Stats
	for range s.cfg.Throttle {
		if ctx.Err() != nil {
			break
		}
		progress, err := s.ProcessOnce(ctx)
		if err != nil {
			return stats, err
		}
		if !progress {
			break
		}
		stats.Steps++
	}

	inputsEmpty := len(s.queues[0]) == 0 && len(s.queues[1]) == 0
	for range s.cfg.Throttle {
		progress, flushed, err := s.serviceOutputs(ctx, inputsEmpty)
		stats.Flushed += flushed
		if err != nil {
			return stats, err
		}
		if !progress {
			break
		}
	}
	s.publishDepths()
	return stats, nil
}

// FlushAll writes every pending synchronized pair to disk. Pairs that
// could not be written stay pending.
func (s *Synchronizer) FlushAll(ctx context.Context) (int, error) {
	s.acc.settle()
	flushed, err := s.writeReady(ctx)
	s.publishDepths()
	return flushed, err
}

func (s *Synchronizer) publishDepths() {
	for cam := range 2 {
		s.metrics.SetQueueDepth(cam+1, "input", len(s.queues[cam]))
		s.metrics.SetQueueDepth(cam+1, "output", s.acc.pairs())
	}
}

func (s *Synchronizer) record(ctx context.Context, cam int, f *frames.File, outcome ledger.Outcome, reason string) {
	logger := logging.WithContext(ctx, s.logger)
	attrs := append(logging.DecisionAttrs("classification", string(outcome), reason),
		logging.String(logging.FieldPath, f.Path()),
		logging.String(logging.FieldStream, f.Stream()),
		logging.Int(logging.FieldCamera, cam+1),
		logging.Int("frames", f.Frames()),
	)
	if outcome == ledger.OutcomeBad {
		logging.WarnWithContext(logger, "frame file quarantined", "frame_quarantined",
			append(attrs,
				logging.String(logging.FieldImpact, "frames excluded from synchronized output"),
				logging.String(logging.FieldErrorHint, "inspect the file and its timing sidecar"),
			)...)
	} else {
		logger.Info("frame file classified", logging.Args(attrs...)...)
	}
	s.metrics.ObserveDecision(cam+1, string(outcome))

	if s.recorder == nil {
		return
	}
	passID, _ := logging.PassIDFromContext(ctx)
	err := s.recorder.Record(ctx, ledger.Decision{
		PassID:     passID,
		RecordedAt: s.now(),
		Camera:     cam + 1,
		Stream:     f.Stream(),
		Path:       f.Path(),
		Outcome:    outcome,
		Frames:     f.Frames(),
		Detail:     reason,
	})
	if err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "decision missing from audit ledger"),
		)
	}
}
