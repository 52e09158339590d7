package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"vampsync/internal/archive"
	"vampsync/internal/compress"
	"vampsync/internal/config"
	"vampsync/internal/ledger"
	"vampsync/internal/logging"
	"vampsync/internal/metrics"
	"vampsync/internal/preflight"
	"vampsync/internal/scanner"
	"vampsync/internal/staging"
	"vampsync/internal/synchro"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Hour
)

// ErrAlreadyRunning reports that another process holds the daemon lock.
var ErrAlreadyRunning = errors.New("another vampsync instance is already running")

// Daemon coordinates the scan, synchronize, compress and archive cycle and
// enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *ledger.Store
	metrics *metrics.Metrics

	scanner  *scanner.Scanner
	sync     *synchro.Synchronizer
	jobs     *compress.JobManager
	migrator *archive.Migrator

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	mu        sync.Mutex
	snapshot  Status
	lastSweep time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	Passes          int
	LastPass        time.Time
	LastPassID      string
	QueueDepths     [2]int
	PendingOutputs  int
	CompressionJobs int
	LedgerPath      string
	LockFilePath    string
}

// Option configures a Daemon.
type Option func(*options)

type options struct {
	metrics  *metrics.Metrics
	minAge   time.Duration
	minAgeOK bool
}

// WithMetrics publishes pass and pipeline metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSettleTime overrides how long a camera file must stay unmodified
// before it is picked up.
func WithSettleTime(d time.Duration) Option {
	return func(o *options) {
		o.minAge = d
		o.minAgeOK = true
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and ledger store")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	scanOpts := []scanner.Option{scanner.WithLogger(logger)}
	if o.minAgeOK {
		scanOpts = append(scanOpts, scanner.WithMinAge(o.minAge))
	}
	cameras := []string{cfg.CameraStream(1), cfg.CameraStream(2)}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: o.metrics,
		scanner: scanner.New(cfg.Paths.DataRoot, cameras, scanOpts...),
		sync: synchro.New(synchro.ConfigFromConfig(cfg),
			synchro.WithRecorder(store),
			synchro.WithMetrics(o.metrics),
			synchro.WithLogger(logger),
		),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	archiveOpts := []archive.Option{archive.WithLogger(logger), archive.WithMetrics(o.metrics)}
	if cfg.Compression.Enabled {
		d.jobs = compress.New(cfg.Compression, compress.WithLogger(logger), compress.WithMetrics(o.metrics))
		archiveOpts = append(archiveOpts, archive.WithActive(d.jobs), archive.RequireCompressed(cfg.Compression.Suffix))
	}
	if len(cfg.Archive.Tiers) > 0 {
		d.migrator = archive.New(cfg, archiveOpts...)
	}
	d.snapshot = Status{LedgerPath: store.Path(), LockFilePath: d.lockPath}
	return d, nil
}

// Start acquires the daemon lock, checks the environment and launches the
// pass loop in the background.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return err
	}
	if err := d.prepare(ctx); err != nil {
		d.release()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.err = nil
	d.running.Store(true)

	var wg sync.WaitGroup
	wake := make(chan struct{}, 1)
	wg.Go(func() {
		if err := d.watch(runCtx, wake); err != nil {
			logging.WarnWithContext(d.logger, "file watch unavailable", "watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new files wait for the next poll"),
			)
		}
	})
	if bind := strings.TrimSpace(d.cfg.Paths.MetricsBind); bind != "" && d.metrics != nil {
		wg.Go(func() {
			if err := metrics.Serve(runCtx, bind, d.metrics, d.logger); err != nil {
				logging.WarnWithContext(d.logger, "metrics endpoint stopped", "metrics_failed",
					logging.String("bind", bind),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that metrics_bind is free"),
				)
			}
		})
	}

	go func() {
		err := d.loop(runCtx, wake)
		cancel()
		wg.Wait()
		d.shutdown(context.WithoutCancel(ctx))
		d.err = err
		d.running.Store(false)
		d.release()
		d.logger.Info("vampsync daemon stopped")
		close(d.done)
	}()

	d.logger.Info("vampsync daemon started",
		logging.String("lock", d.lockPath),
		logging.String("data_root", d.cfg.Paths.DataRoot),
		logging.Duration("poll_interval", d.cfg.PollInterval()),
	)
	return nil
}

// Done is closed once the pass loop has exited and the daemon has released
// its lock.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Err returns the error that ended the pass loop, if any. It is valid after
// Done is closed.
func (d *Daemon) Err() error {
	return d.err
}

// Stop ends the pass loop, flushes pending output and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RunOnce runs a single pass, flushes every pending output and waits for
// compression jobs it started. It takes the daemon lock for its duration.
func (d *Daemon) RunOnce(ctx context.Context) (synchro.Stats, error) {
	if d.running.Load() {
		return synchro.Stats{}, errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return synchro.Stats{}, err
	}
	defer d.release()
	if err := d.prepare(ctx); err != nil {
		return synchro.Stats{}, err
	}

	stats, err := d.pass(ctx)
	if err != nil {
		d.storageFailure(err)
		return stats, err
	}
	n, err := d.sync.FlushAll(ctx)
	stats.Flushed += n
	if err != nil {
		d.storageFailure(err)
		return stats, err
	}
	if d.jobs != nil {
		d.jobs.Wait(ctx)
	}
	d.publish("")
	return stats, nil
}

// Status returns a snapshot of the daemon taken after the last pass.
func (d *Daemon) Status(context.Context) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.snapshot
	s.Running = d.running.Load()
	return s
}

func (d *Daemon) acquire() error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String(logging.FieldPath, d.lockPath),
			logging.Error(err),
		)
	}
}

// prepare runs preflight checks and crash recovery before the first pass.
func (d *Daemon) prepare(ctx context.Context) error {
	if failed := preflight.Failed(preflight.RunAll(d.cfg)); len(failed) > 0 {
		var errs []error
		for _, r := range failed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
		return fmt.Errorf("preflight: %w", errors.Join(errs...))
	}
	d.sweep(ctx)
	if d.cfg.Paths.LogDir != "" {
		logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     d.cfg.Paths.LogDir,
			Pattern: "*.log*",
			Exclude: []string{filepath.Join(d.cfg.Paths.LogDir, logging.LogFileName)},
		})
	}
	return nil
}

func (d *Daemon) sweep(ctx context.Context) {
	maxAge := time.Duration(d.cfg.Workflow.StagingMaxAgeHours) * time.Hour
	res := staging.Sweep(ctx, d.cfg.Paths.DataRoot, maxAge, d.logger)
	d.lastSweep = time.Now()
	if len(res.Removed) > 0 || len(res.Errors) > 0 {
		d.logger.Info("crash leftovers swept",
			logging.Int("removed", len(res.Removed)),
			logging.Int("errors", len(res.Errors)),
			logging.String(logging.FieldEventType, "staging_sweep"),
		)
	}
}

func (d *Daemon) loop(ctx context.Context, wake <-chan struct{}) error {
	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()
	for {
		if _, err := d.pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.storageFailure(err)
			return err
		}
		if time.Since(d.lastSweep) >= sweepInterval {
			d.sweep(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
	}
}

// pass runs one scan, synchronize, compress and archive cycle. Only
// synchronizer storage errors are returned; the rest is logged and retried
// on the next pass.
func (d *Daemon) pass(ctx context.Context) (synchro.Stats, error) {
	passID := uuid.NewString()
	ctx = logging.WithPassID(ctx, passID)
	logger := logging.WithContext(ctx, d.logger)
	started := time.Now()

	files, err := d.scanner.Scan(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "scan incomplete", "scan_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some camera files wait for the next pass"),
		)
	}
	if err := d.sync.Feed(ctx, files); err != nil {
		logging.WarnWithContext(logger, "files rejected by synchronizer", "feed_rejected",
			logging.Error(err),
		)
	}
	stats, err := d.sync.ProcessQueues(ctx)
	if err != nil {
		return stats, err
	}
	if hours := d.cfg.Synchro.SeenRetentionHours; hours > 0 {
		d.sync.PruneSeen(time.Duration(hours) * time.Hour)
	}

	if d.jobs != nil {
		d.jobs.Refresh()
		streams := []string{d.cfg.SyncStream(), d.cfg.SoloStream(1), d.cfg.SoloStream(2)}
		if _, err := d.jobs.SubmitFinished(context.WithoutCancel(ctx), d.cfg.Paths.DataRoot, streams); err != nil {
			logging.WarnWithContext(logger, "compression submit failed", "compression_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the compression command"),
			)
		}
	}
	if d.migrator != nil {
		if _, err := d.migrator.Migrate(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(logger, "archive migration failed", "archive_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "files stay on the current tier until the next pass"),
				logging.String(logging.FieldErrorHint, "check archive tier mounts and free space"),
			)
		}
	}

	elapsed := time.Since(started)
	d.metrics.ObservePass(elapsed)
	d.publish(passID)
	if stats.Steps > 0 || stats.Flushed > 0 {
		logger.Info("pass complete",
			logging.Int("steps", stats.Steps),
			logging.Int("flushed", stats.Flushed),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "pass_complete"),
		)
	}
	return stats, nil
}

// publish refreshes the status snapshot. An empty passID updates the queue
// figures without counting a pass.
func (d *Daemon) publish(passID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if passID != "" {
		d.snapshot.Passes++
		d.snapshot.LastPass = time.Now()
		d.snapshot.LastPassID = passID
	}
	d.snapshot.QueueDepths = d.sync.QueueDepths()
	d.snapshot.PendingOutputs = d.sync.PendingOutputs()
	if d.jobs != nil {
		d.snapshot.CompressionJobs = d.jobs.Running()
	}
}

// shutdown writes out merged segments still held in memory and gives
// running compression jobs time to finish.
func (d *Daemon) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	n, err := d.sync.FlushAll(ctx)
	if err != nil {
		d.storageFailure(err)
	} else if n > 0 {
		d.logger.Info("flushed pending output on shutdown", logging.Int("files", n))
	}
	if d.jobs != nil {
		d.jobs.Wait(ctx)
	}
	d.publish("")
}

func (d *Daemon) storageFailure(err error) {
	logging.ErrorWithContext(d.logger, "storage failure", "storage_failure",
		logging.Error(err),
		logging.String(logging.FieldImpact, "daemon stops to avoid losing frames"),
		logging.String(logging.FieldErrorHint, "check data_root free space and permissions"),
	)
}

// Locked reports whether some process currently holds the daemon lock of
// cfg. It briefly takes the lock itself when it is free.
func Locked(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	return false, lock.Unlock()
}
