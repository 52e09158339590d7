package synchro

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"vampsync/internal/config"
	"vampsync/internal/fits"
	"vampsync/internal/frames"
	"vampsync/internal/ledger"
	"vampsync/internal/logging"
	"vampsync/internal/matcher"
)

// tolerance returns the base matching tolerance for a pair. In readout mode
// it widens to half the readout time of the taller frame.
func (s *Synchronizer) tolerance(files [2]*frames.File) float64 {
	tol := s.cfg.Match.ToleranceUS
	if s.cfg.ToleranceMode != config.ToleranceReadout || s.cfg.LineTimeUS <= 0 {
		return tol
	}
	for _, f := range files {
		rows, ok := f.Header().Int(frames.KeyReadoutRows)
		if !ok {
			rows, ok = f.Header().Int(fits.KeyNaxis + "2")
		}
		if ok {
			tol = max(tol, float64(rows)*s.cfg.LineTimeUS/2)
		}
	}
	return tol
}

// resync matches two overlapping files, emits the common frames to the
// accumulator and handles the unmatched remainders. Remainders are written
// before the originals are deleted.
func (s *Synchronizer) resync(ctx context.Context, in [2]entry) error {
	files := [2]*frames.File{in[0].file, in[1].file}
	logger := logging.WithContext(ctx, s.logger)

	tol := s.tolerance(files)
	res := matcher.Match(files[0].Timing().FrameTimesUS(), files[1].Timing().FrameTimesUS(), s.cfg.Match.WithTolerance(tol))
	logger.Debug("frame pair matched",
		logging.String("camera1", files[0].Path()),
		logging.String("camera2", files[1].Path()),
		logging.Int("pairs", res.Pairs),
		logging.Float64("tolerance_us", tol),
		logging.Float64("final_tolerance_us", res.FinalToleranceUS),
	)

	if res.Pairs == 0 {
		// Only the earlier file is settled; the later one may still pair
		// with something that has not arrived yet. Neither was split, so
		// the seen set is left alone.
		early, late := 0, 1
		if in[1].start.Before(in[0].start) {
			early, late = 1, 0
		}
		s.pushFront(late, in[late])
		return s.solo(ctx, early, files[early], "no frame pairs within tolerance")
	}

	masks := [2][]bool{res.MaskA, res.MaskB}
	var common pair
	for cam, f := range files {
		sub, err := f.Subselect(masks[cam])
		if unreadable(err) {
			// The partner is untouched and may still pair with a later file.
			s.pushFront(1-cam, in[1-cam])
			return s.quarantine(ctx, cam, f, fmt.Sprintf("unreadable frame data: %v", err))
		}
		if err != nil {
			return fmt.Errorf("select matched frames of %s: %w", f.Path(), err)
		}
		common[cam] = sub
	}
	mid := matcher.Midpoints(common[0].Timing().FrameTimesUS(), common[1].Timing().FrameTimesUS())
	for cam, sub := range common {
		if err := sub.ForceFrameTimes(mid); err != nil {
			return fmt.Errorf("align frame times of %s: %w", sub.Path(), err)
		}
		sub.Header().Set(frames.KeySynchro, true)
		if err := sub.MoveToStream(s.cfg.SyncStream, false); err != nil {
			return fmt.Errorf("place %s in sync stream: %w", sub.Path(), err)
		}
		s.record(ctx, cam, sub, ledger.OutcomeSynced,
			fmt.Sprintf("%d of %d frames paired", res.Pairs, files[cam].Frames()))
	}
	s.acc.push(common)

	ratios := [2]float64{res.RatioA(), res.RatioB()}
	for cam, f := range files {
		if err := s.remainder(ctx, cam, f, masks[cam], ratios[cam]); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := f.DeleteFromDisk(); err != nil && !errors.Is(err, frames.ErrNotFound) {
			return fmt.Errorf("delete consumed %s: %w", f.Path(), err)
		}
	}
	return nil
}

// remainder keeps the unmatched frames of f when enough of them are left.
// A remainder seen before goes to the solo stream; a new one is requeued.
func (s *Synchronizer) remainder(ctx context.Context, cam int, f *frames.File, mask []bool, ratio float64) error {
	if matcher.Count(mask) == len(mask) {
		return nil
	}
	if ratio >= s.cfg.KeepRemainderBelow {
		s.record(ctx, cam, f, ledger.OutcomeDiscarded,
			fmt.Sprintf("%d unmatched frame(s), %.1f%% matched", len(mask)-matcher.Count(mask), ratio*100))
		return nil
	}
	rest, err := f.Subselect(matcher.Invert(mask))
	if err != nil {
		return fmt.Errorf("select unmatched frames of %s: %w", f.Path(), err)
	}

	key := remainderKey(f.Stream(), rest)
	if _, seen := s.seen[key]; seen {
		rest.Header().Set(frames.KeySynchro, false)
		dir := filepath.Join(f.Root(), f.Date(), s.cfg.SoloStreams[cam])
		if err := rest.MoveTo(dir, rest.Name()); err != nil {
			return fmt.Errorf("place remainder %s in solo stream: %w", rest.Path(), err)
		}
		if err := rest.Disambiguate(); err != nil {
			return fmt.Errorf("name remainder %s: %w", rest.Path(), err)
		}
		if err := rest.WriteToDisk(); err != nil {
			return fmt.Errorf("write remainder %s: %w", rest.Path(), err)
		}
		s.record(ctx, cam, rest, ledger.OutcomeSolo, "remainder already retried")
		return nil
	}

	s.seen[key] = s.now()
	if err := rest.Disambiguate(); err != nil {
		return fmt.Errorf("name remainder %s: %w", rest.Path(), err)
	}
	if err := rest.WriteToDisk(); err != nil {
		return fmt.Errorf("write remainder %s: %w", rest.Path(), err)
	}
	s.enqueue(cam, rest)
	s.record(ctx, cam, rest, ledger.OutcomeRequeued, fmt.Sprintf("%.1f%% matched", ratio*100))
	return nil
}

// remainderKey identifies a remainder by its stream and first frame stamp,
// which survive renames.
func remainderKey(stream string, f *frames.File) string {
	first, _ := f.Timing().First()
	return stream + "@" + strconv.FormatFloat(first, 'f', 0, 64)
}

// PruneSeen forgets remainders recorded before maxAge ago and returns how
// many were dropped.
func (s *Synchronizer) PruneSeen(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	n := 0
	for key, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, key)
			n++
		}
	}
	return n
}
