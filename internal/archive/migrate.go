// Package archive migrates finished partitions between storage tiers.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vampsync/internal/config"
	"vampsync/internal/fileutil"
	"vampsync/internal/frames"
	"vampsync/internal/logging"
	"vampsync/internal/metrics"
	"vampsync/internal/timinglog"
)

// ActiveChecker reports files that an external job is still writing.
type ActiveChecker interface {
	Active(path string) bool
}

// Hop moves files from one tier root to the next.
type Hop struct {
	From string
	To   string
}

// Hops returns the tier chain of cfg, deepest first so that one pass moves
// a file at most one tier.
func Hops(cfg *config.Config) []Hop {
	roots := append([]string{cfg.Paths.DataRoot}, cfg.Archive.Tiers...)
	var hops []Hop
	for i := len(roots) - 1; i > 0; i-- {
		hops = append(hops, Hop{From: roots[i-1], To: roots[i]})
	}
	return hops
}

// Stats summarizes one migration pass.
type Stats struct {
	Moved   int
	Skipped int
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) { m.logger = logging.NewComponentLogger(logger, "archive") }
}

// WithMetrics counts migrated files.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Migrator) { m.metrics = mt }
}

// WithActive skips files reported active by c.
func WithActive(c ActiveChecker) Option {
	return func(m *Migrator) { m.active = c }
}

// WithClock replaces time.Now for the window check.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// RequireCompressed holds back uncompressed files until a sibling with
// suffix exists.
func RequireCompressed(suffix string) Option {
	return func(m *Migrator) { m.compressedSuffix = suffix }
}

// Migrator moves files of selected streams along the tier chain.
type Migrator struct {
	hops             []Hop
	streams          []string
	window           Window
	compressedSuffix string
	active           ActiveChecker
	metrics          *metrics.Metrics
	now              func() time.Time
	logger           *slog.Logger
	ignoreWindow     bool
}

// IgnoreWindow lets the migrator run at any time of day.
func IgnoreWindow() Option {
	return func(m *Migrator) { m.ignoreWindow = true }
}

// New returns a migrator for cfg.
func New(cfg *config.Config, opts ...Option) *Migrator {
	m := &Migrator{
		hops:    Hops(cfg),
		streams: cfg.Archive.Streams,
		window:  Window{Start: cfg.Archive.WindowStartMinute, Stop: cfg.Archive.WindowStopMinute},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ignoreWindow {
		m.window = Window{}
	}
	if m.logger == nil {
		m.logger = logging.NewComponentLogger(nil, "archive")
	}
	return m
}

// Migrate runs one pass. It does nothing outside the window and stops when
// the window closes mid-pass.
func (m *Migrator) Migrate(ctx context.Context) (Stats, error) {
	var stats Stats
	logger := logging.WithContext(ctx, m.logger)
	if !m.window.Open(m.now()) {
		logger.Debug("archive window closed", logging.String("window", m.window.String()))
		return stats, nil
	}
	for _, hop := range m.hops {
		for _, stream := range m.streams {
			paths, err := filepath.Glob(filepath.Join(hop.From, "*", stream, "*"))
			if err != nil {
				return stats, err
			}
			for _, path := range paths {
				if ctx.Err() != nil || !m.window.Open(m.now()) {
					return stats, ctx.Err()
				}
				if !isArtifact(path) || !fileutil.Exists(path) {
					continue
				}
				moved, err := m.migrateFile(ctx, hop, path)
				if err != nil {
					return stats, err
				}
				if moved {
					stats.Moved++
				} else {
					stats.Skipped++
				}
			}
		}
	}
	if stats.Moved > 0 {
		logger.Info("archive pass finished",
			logging.Int("moved", stats.Moved),
			logging.Int("skipped", stats.Skipped),
		)
	}
	m.metrics.AddArchived(stats.Moved)
	return stats, nil
}

func isArtifact(path string) bool {
	if _, ok := frames.KindFromPath(path); ok {
		return true
	}
	return strings.HasSuffix(path, frames.KindCube.Ext()+".fz")
}

// migrateFile moves one frame artifact with its sidecar. A compressed
// copy travels with its source.
func (m *Migrator) migrateFile(ctx context.Context, hop Hop, path string) (bool, error) {
	if m.active != nil && m.active.Active(path) {
		return false, nil
	}
	kind, ok := frames.KindFromPath(path)
	if !ok {
		// Compressed copy whose source already left.
		src := strings.TrimSuffix(path, ".fz")
		if fileutil.Exists(src) {
			return false, nil
		}
		return m.moveLoose(ctx, hop, path, strings.TrimSuffix(src, frames.KindCube.Ext())+timinglog.Ext)
	}

	compressed := ""
	if m.compressedSuffix != "" && kind == frames.KindCube {
		compressed = path + m.compressedSuffix
		if !fileutil.Exists(compressed) {
			return false, nil
		}
	}
	f, err := frames.Load(path, frames.WithLogger(m.logger))
	if err != nil {
		if errors.Is(err, frames.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := f.MoveToRoot(hop.To); err != nil {
		if errors.Is(err, frames.ErrExists) {
			m.warnExists(ctx, f.Path())
			return false, nil
		}
		return false, fmt.Errorf("migrate %s: %w", path, err)
	}
	if compressed != "" {
		if _, err := m.moveLoose(ctx, hop, compressed, ""); err != nil {
			return true, err
		}
	}
	logging.WithContext(ctx, m.logger).Debug("frame file migrated",
		logging.String(logging.FieldPath, f.Path()),
		logging.String("from", path),
	)
	return true, nil
}

// moveLoose moves an artifact and, when present, the sidecar next to it.
func (m *Migrator) moveLoose(ctx context.Context, hop Hop, path, sidecar string) (bool, error) {
	moved, err := m.moveOne(hop, path)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			m.warnExists(ctx, path)
			return false, nil
		}
		return false, err
	}
	if sidecar != "" && fileutil.Exists(sidecar) {
		if _, err := m.moveOne(hop, sidecar); err != nil && !errors.Is(err, os.ErrExist) {
			return moved, err
		}
	}
	return moved, nil
}

func (m *Migrator) moveOne(hop Hop, path string) (bool, error) {
	rel, err := filepath.Rel(hop.From, path)
	if err != nil {
		return false, err
	}
	dst := filepath.Join(hop.To, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := fileutil.Move(path, dst); err != nil {
		return false, fmt.Errorf("migrate %s: %w", path, err)
	}
	return true, nil
}

func (m *Migrator) warnExists(ctx context.Context, path string) {
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "archive target already exists", "archive_collision",
		logging.String(logging.FieldPath, path),
		logging.String(logging.FieldImpact, "file left on the current tier"),
		logging.String(logging.FieldErrorHint, "compare both copies and remove the stale one"),
	)
}
