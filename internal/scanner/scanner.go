// Package scanner discovers new frame files in the camera stream folders.
//
// Only direct children of root/<date>/<stream>/ are considered, so staged
// writes under tmp/ and in-flight .part files never match.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vampsync/internal/frames"
	"vampsync/internal/logging"
	"vampsync/internal/timinglog"
)

// DefaultMinAge is how long a file must sit unmodified before it is picked up.
const DefaultMinAge = 2 * time.Second

// patterns are the kinds a camera writes, in order of preference when the
// same base name exists more than once.
var patterns = []frames.Kind{frames.KindCube, frames.KindCompressedCube, frames.KindFrameList}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logging.NewComponentLogger(logger, "scanner") }
}

// WithMinAge overrides DefaultMinAge.
func WithMinAge(d time.Duration) Option {
	return func(s *Scanner) { s.minAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// Scanner remembers which files it has already handed out.
type Scanner struct {
	root    string
	streams []string
	minAge  time.Duration
	now     func() time.Time
	logger  *slog.Logger

	known  map[string]struct{}
	failed map[string]struct{}
}

// New returns a scanner for the given streams under root.
func New(root string, streams []string, opts ...Option) *Scanner {
	s := &Scanner{
		root:    root,
		streams: streams,
		minAge:  DefaultMinAge,
		now:     time.Now,
		known:   make(map[string]struct{}),
		failed:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewComponentLogger(nil, "scanner")
	}
	return s
}

// Candidates returns the current frame-file paths of one stream, sorted,
// with compressed duplicates of an uncompressed file left out.
func Candidates(root, stream string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, kind := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, "*", stream, "*"+kind.Ext()))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if k, ok := frames.KindFromPath(m); !ok || k != kind {
				continue
			}
			key := strings.TrimSuffix(m, kind.Ext())
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Scan loads files that appeared since the last call. Files still being
// written are deferred to a later scan. Paths that vanished are forgotten.
func (s *Scanner) Scan(ctx context.Context) ([]*frames.File, error) {
	logger := logging.WithContext(ctx, s.logger)
	current := make(map[string]struct{})
	var found []*frames.File
	var errs []error

	for _, stream := range s.streams {
		paths, err := Candidates(s.root, stream)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", stream, err))
			continue
		}
		for _, p := range paths {
			current[p] = struct{}{}
			if _, ok := s.known[p]; ok {
				continue
			}
			if !s.settled(p) {
				continue
			}
			f, err := frames.Load(p, frames.WithLogger(s.logger))
			if err != nil {
				if errors.Is(err, frames.ErrNotFound) {
					continue
				}
				if _, warned := s.failed[p]; !warned {
					s.failed[p] = struct{}{}
					logging.WarnWithContext(logger, "frame file unreadable", "scan_load_failed",
						logging.String(logging.FieldPath, p),
						logging.Error(err),
						logging.String(logging.FieldImpact, "file skipped until it becomes readable"),
						logging.String(logging.FieldErrorHint, "check whether the writer finished the file"),
					)
				}
				continue
			}
			delete(s.failed, p)
			s.known[p] = struct{}{}
			found = append(found, f)
		}
	}

	for p := range s.known {
		if _, ok := current[p]; !ok {
			delete(s.known, p)
		}
	}
	for p := range s.failed {
		if _, ok := current[p]; !ok {
			delete(s.failed, p)
		}
	}
	if len(found) > 0 {
		logger.Debug("scan found frame files", logging.Int("count", len(found)))
	}
	return found, errors.Join(errs...)
}

// Known returns the number of remembered paths.
func (s *Scanner) Known() int {
	return len(s.known)
}

// settled reports whether path and its sidecar are older than minAge.
func (s *Scanner) settled(path string) bool {
	if s.minAge <= 0 {
		return true
	}
	cutoff := s.now().Add(-s.minAge)
	kind, _ := frames.KindFromPath(path)
	sidecar := strings.TrimSuffix(path, kind.Ext()) + timinglog.Ext
	for _, p := range []string{path, sidecar} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			return false
		}
	}
	return true
}
