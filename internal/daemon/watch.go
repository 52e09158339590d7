package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"vampsync/internal/frames"
	"vampsync/internal/logging"
	"vampsync/internal/timinglog"
)

// watch signals wake whenever a frame file or timing sidecar appears in a
// camera partition. New date folders are picked up as they are created.
// It blocks until ctx is done.
func (d *Daemon) watch(ctx context.Context, wake chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	root := d.cfg.Paths.DataRoot
	cameras := []string{d.cfg.CameraStream(1), d.cfg.CameraStream(2)}
	addTree := func() {
		_ = watcher.Add(root)
		dates, _ := filepath.Glob(filepath.Join(root, "*"))
		for _, date := range dates {
			_ = watcher.Add(date)
			for _, cam := range cameras {
				_ = watcher.Add(filepath.Join(date, cam))
			}
		}
	}
	addTree()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				addTree()
				continue
			}
			if !relevant(event.Name) {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(d.logger, "file watcher error", "watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new files wait for the next poll"),
			)
		}
	}
}

func relevant(path string) bool {
	if _, ok := frames.KindFromPath(path); ok {
		return true
	}
	return filepath.Ext(path) == timinglog.Ext
}
