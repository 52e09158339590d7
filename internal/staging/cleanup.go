// Package staging recovers from interrupted frame-file writes and deletes.
//
// Writes go through a per-stream tmp/ folder and deletes rename an artifact
// to <name>.<unix-nanos> before unlinking it. A crash can leave either kind
// of leftover behind; Sweep removes them.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"vampsync/internal/frames"
	"vampsync/internal/logging"
)

// halfDeleted matches an artifact renamed by an interrupted delete.
var halfDeleted = regexp.MustCompile(`\.(fits|fits\.gz|fitsframes|txt)\.\d{10,}$`)

// Kind labels a leftover.
type Kind string

const (
	KindStaged      Kind = "staged"
	KindHalfDeleted Kind = "half-deleted"
)

// Leftover is one crash artifact under a data root.
type Leftover struct {
	Kind    Kind      `json:"kind"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// SweepResult contains the outcome of a sweep.
type SweepResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// List returns the leftovers under root, laid out as root/<date>/<stream>.
func List(root string) ([]Leftover, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	streams, err := filepath.Glob(filepath.Join(root, "*", "*"))
	if err != nil {
		return nil, err
	}

	var out []Leftover
	for _, dir := range streams {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue
			}
			switch {
			case entry.IsDir() && entry.Name() == frames.StagingDir:
				staged, _ := os.ReadDir(path)
				for _, s := range staged {
					sInfo, err := s.Info()
					if err != nil {
						continue
					}
					sPath := filepath.Join(path, s.Name())
					size, _ := dirSize(sPath)
					out = append(out, Leftover{Kind: KindStaged, Path: sPath, ModTime: sInfo.ModTime(), Size: size})
				}
			case !entry.IsDir() && halfDeleted.MatchString(entry.Name()):
				out = append(out, Leftover{Kind: KindHalfDeleted, Path: path, ModTime: info.ModTime(), Size: info.Size()})
			}
		}
	}
	return out, nil
}

// Sweep removes staged files older than maxAge and every half-deleted
// artifact under root. Fresh staged files may belong to a write in progress
// and are kept. A maxAge of zero removes every staged file.
func Sweep(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger) SweepResult {
	result := SweepResult{}
	logger = logging.NewComponentLogger(logger, "staging")

	leftovers, err := List(root)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, l := range leftovers {
		if ctx.Err() != nil {
			break
		}
		if maxAge > 0 && l.Kind == KindStaged && !l.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(l.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: l.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove leftover", "staging_cleanup_failed",
				logging.String(logging.FieldPath, l.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check data_root permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, l.Path)
		logger.Info("removed leftover",
			logging.String(logging.FieldPath, l.Path),
			logging.String("kind", string(l.Kind)),
			logging.Duration("age", time.Since(l.ModTime)),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	// Empty staging folders go too; a writer recreates its own.
	for _, l := range leftovers {
		if l.Kind == KindStaged {
			_ = os.Remove(filepath.Dir(l.Path))
		}
	}
	return result
}

// dirSize calculates the total size of a path recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Ignore errors, best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
