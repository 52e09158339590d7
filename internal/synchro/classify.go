package synchro

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"vampsync/internal/fits"
	"vampsync/internal/frames"
	"vampsync/internal/ledger"
)

// badReason explains why f can never be synchronized, or returns "".
func badReason(f *frames.File) string {
	if !f.HasTiming() {
		if err := f.TimingError(); err != nil {
			return fmt.Sprintf("unreadable timing sidecar: %v", err)
		}
		return "missing timing sidecar"
	}
	if n := f.Timing().Len(); n != f.Frames() {
		return fmt.Sprintf("timing sidecar holds %d stamps for %d frames", n, f.Frames())
	}
	if _, ok := f.ExposureSeconds(); !ok {
		return "missing " + frames.KeyExpTime + " keyword"
	}
	return ""
}

// trivialReason explains why f has nothing to pair, or returns "".
func trivialReason(f *frames.File) string {
	if !f.ExternalTrigger() {
		return "external trigger disabled"
	}
	if f.Frames() <= 1 {
		return fmt.Sprintf("%d frame(s)", f.Frames())
	}
	return ""
}

// unreadable reports a data artifact whose header parsed but whose data
// array does not decode, for instance a cube cut short by a crashed writer.
func unreadable(err error) bool {
	return errors.Is(err, fits.ErrMalformed)
}

func (s *Synchronizer) quarantine(ctx context.Context, cam int, f *frames.File, reason string) error {
	dir := filepath.Join(f.Root(), f.Date(), s.cfg.BadStream)
	name, err := f.NextFreeName(dir)
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", f.Path(), err)
	}
	if err := f.MoveTo(dir, name); err != nil {
		return fmt.Errorf("quarantine %s: %w", f.Path(), err)
	}
	s.record(ctx, cam, f, ledger.OutcomeBad, reason)
	return nil
}

// solo tags an on-disk file as not synchronized and moves it to the
// camera's solo stream. A file whose data cannot be read is quarantined.
func (s *Synchronizer) solo(ctx context.Context, cam int, f *frames.File, reason string) error {
	f.Header().Set(frames.KeySynchro, false)
	if err := f.UpdateHeaderOnDisk(); err != nil {
		if unreadable(err) {
			return s.quarantine(ctx, cam, f, fmt.Sprintf("unreadable frame data: %v", err))
		}
		return fmt.Errorf("tag %s as not synchronized: %w", f.Path(), err)
	}
	dir := filepath.Join(f.Root(), f.Date(), s.cfg.SoloStreams[cam])
	name, err := f.NextFreeName(dir)
	if err != nil {
		return fmt.Errorf("move %s to solo stream: %w", f.Path(), err)
	}
	if err := f.MoveTo(dir, name); err != nil {
		return fmt.Errorf("move %s to solo stream: %w", f.Path(), err)
	}
	s.record(ctx, cam, f, ledger.OutcomeSolo, reason)
	return nil
}
