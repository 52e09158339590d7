// Package compress runs an external compressor over finished frame files,
// a bounded number at a time.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"vampsync/internal/config"
	"vampsync/internal/fileutil"
	"vampsync/internal/frames"
	"vampsync/internal/logging"
	"vampsync/internal/metrics"
)

// Result is the outcome of Submit.
type Result int

const (
	Started Result = iota
	AlreadyRunning
	NoFile
	TooMany
)

func (r Result) String() string {
	switch r {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already_running"
	case NoFile:
		return "no_file"
	case TooMany:
		return "too_many"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

type job struct {
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	done   chan struct{}
	err    error
}

// Option configures a JobManager.
type Option func(*JobManager)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *JobManager) { m.logger = logging.NewComponentLogger(logger, "compress") }
}

// WithMetrics publishes the running job count.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *JobManager) { m.metrics = mt }
}

// JobManager tracks compressor processes by input path. Submit and Refresh
// must be called from one goroutine.
type JobManager struct {
	command string
	args    []string
	suffix  string
	maxJobs int
	jobs    map[string]*job
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a manager for the configured compressor.
func New(cfg config.Compression, opts ...Option) *JobManager {
	m := &JobManager{
		command: cfg.Command,
		args:    slices.Clone(cfg.Args),
		suffix:  cfg.Suffix,
		maxJobs: cfg.MaxJobs,
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewComponentLogger(nil, "compress")
	}
	return m
}

// Submit starts compressing path unless it is missing, already being
// compressed, or the job limit is reached.
func (m *JobManager) Submit(ctx context.Context, path string) (Result, error) {
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return NoFile, nil
	}
	if _, ok := m.jobs[path]; ok {
		return AlreadyRunning, nil
	}
	if len(m.jobs) >= m.maxJobs {
		return TooMany, nil
	}

	args := append(slices.Clone(m.args), path)
	cmd := exec.CommandContext(ctx, m.command, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return NoFile, fmt.Errorf("start %s: %w", m.command, err)
	}
	j := &job{cmd: cmd, stderr: stderr, done: make(chan struct{})}
	go func() {
		j.err = cmd.Wait()
		close(j.done)
	}()
	m.jobs[path] = j
	m.metrics.SetCompressionJobs(len(m.jobs))
	logging.WithContext(ctx, m.logger).Debug("compression started",
		logging.String(logging.FieldPath, path),
		logging.Int("running", len(m.jobs)),
	)
	return Started, nil
}

// Refresh forgets finished jobs and returns how many finished.
func (m *JobManager) Refresh() int {
	n := 0
	for path, j := range m.jobs {
		select {
		case <-j.done:
		default:
			continue
		}
		delete(m.jobs, path)
		n++
		if j.err != nil {
			logging.WarnWithContext(m.logger, "compression failed", "compression_failed",
				logging.String(logging.FieldPath, path),
				logging.Error(j.err),
				logging.String("stderr", strings.TrimSpace(j.stderr.String())),
				logging.String(logging.FieldImpact, "file stays uncompressed until the next attempt"),
				logging.String(logging.FieldErrorHint, "run the compressor by hand on the file"),
			)
			// A partial output would block the retry.
			_ = os.Remove(path + m.suffix)
			continue
		}
		m.logger.Info("compression finished", logging.String(logging.FieldPath, path))
	}
	m.metrics.SetCompressionJobs(len(m.jobs))
	return n
}

// Running returns the number of live jobs.
func (m *JobManager) Running() int {
	return len(m.jobs)
}

// Active reports whether path, or a file derived from it, is being compressed.
func (m *JobManager) Active(path string) bool {
	if _, ok := m.jobs[path]; ok {
		return true
	}
	_, ok := m.jobs[strings.TrimSuffix(path, m.suffix)]
	return ok
}

// Wait blocks until every running job exits or ctx ends.
func (m *JobManager) Wait(ctx context.Context) {
	for _, j := range m.jobs {
		select {
		case <-j.done:
		case <-ctx.Done():
			return
		}
	}
	m.Refresh()
}

// SubmitFinished submits uncompressed frame files of the given streams
// that have no compressed sibling yet. It stops at the job limit.
func (m *JobManager) SubmitFinished(ctx context.Context, root string, streams []string) (int, error) {
	started := 0
	for _, stream := range streams {
		matches, err := filepath.Glob(filepath.Join(root, "*", stream, "*"+frames.KindCube.Ext()))
		if err != nil {
			return started, err
		}
		for _, path := range matches {
			if fileutil.Exists(path + m.suffix) {
				continue
			}
			res, err := m.Submit(ctx, path)
			if err != nil {
				return started, err
			}
			switch res {
			case Started:
				started++
			case TooMany:
				return started, nil
			}
		}
	}
	return started, nil
}
