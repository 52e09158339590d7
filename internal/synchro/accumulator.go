package synchro

import (
	"context"
	"fmt"
	"time"

	"vampsync/internal/fits"
	"vampsync/internal/frames"
	"vampsync/internal/ledger"
	"vampsync/internal/matcher"
)

// pair holds the camera 1 and camera 2 halves of a synchronized segment.
// Both halves always carry the same frame times.
type pair [2]*frames.File

// accumulator merges consecutive synchronized segments before they are
// written. Both cameras advance together so their outputs stay aligned.
// Settled pairs wait in ready until both halves are on disk.
type accumulator struct {
	current *pair
	pending []pair
	ready   []pair
}

func (a *accumulator) push(p pair) {
	a.pending = append(a.pending, p)
}

func (a *accumulator) pairs() int {
	n := len(a.ready) + len(a.pending)
	if a.current != nil {
		n++
	}
	return n
}

// settle marks every pair as final, oldest first.
func (a *accumulator) settle() {
	if a.current != nil {
		a.ready = append(a.ready, *a.current)
		a.current = nil
	}
	a.ready = append(a.ready, a.pending...)
	a.pending = nil
}

// mergeKeys must agree for two segments to share an output file.
var mergeKeys = []string{frames.KeyExpTime, fits.KeyNaxis + "1", fits.KeyNaxis + "2", frames.KeyRetarderAngle}

func compatible(a, b *frames.File) bool {
	for _, key := range mergeKeys {
		va, okA := a.Header().Get(key)
		vb, okB := b.Header().Get(key)
		if okA != okB || va != vb {
			return false
		}
	}
	return true
}

func span(f *frames.File) (first, last float64) {
	first, _ = f.Timing().First()
	last, _ = f.Timing().Last()
	return first, last
}

// serviceOutputs advances the accumulator by one decision. Pairs left
// unwritten by an earlier failure are retried before anything else.
func (s *Synchronizer) serviceOutputs(ctx context.Context, inputsEmpty bool) (progress bool, flushed int, err error) {
	acc := &s.acc
	if len(acc.ready) > 0 {
		flushed, err = s.writeReady(ctx)
		return true, flushed, err
	}
	if acc.current == nil {
		if len(acc.pending) == 0 {
			return false, 0, nil
		}
		next := acc.pending[0]
		acc.current = &next
		acc.pending = acc.pending[1:]
		return true, 0, nil
	}
	cur := *acc.current

	first, last := span(cur[0])
	maxSpanUS := float64(s.cfg.MaxSpan / time.Microsecond)
	if s.cfg.MaxSpan > 0 && last-first >= maxSpanUS {
		head, tail, err := splitPair(cur, first+maxSpanUS)
		if err != nil {
			return false, 0, err
		}
		acc.ready = append(acc.ready, head)
		acc.current = &tail
		flushed, err = s.writeReady(ctx)
		return true, flushed, err
	}

	if len(acc.pending) > 0 {
		next := acc.pending[0]
		finish, _ := cur[0].FinishTime()
		start, _ := next[0].StartTime()
		if compatible(cur[0], next[0]) && compatible(cur[1], next[1]) && start.Sub(finish) <= s.cfg.MergeGap {
			var merged pair
			for cam := range merged {
				m, err := cur[cam].MergeAfter(next[cam])
				if err != nil {
					return false, 0, fmt.Errorf("merge %s into %s: %w", next[cam].Path(), cur[cam].Path(), err)
				}
				merged[cam] = m
			}
			acc.current = &merged
			acc.pending = acc.pending[1:]
			return true, 0, nil
		}
		acc.ready = append(acc.ready, cur)
		acc.current = nil
		flushed, err = s.writeReady(ctx)
		return true, flushed, err
	}

	lastFrame, _ := cur[0].Timing().Last()
	if inputsEmpty && s.now().Sub(time.UnixMicro(int64(lastFrame))) > s.cfg.IdleFlush {
		acc.ready = append(acc.ready, cur)
		acc.current = nil
		flushed, err = s.writeReady(ctx)
		return true, flushed, err
	}
	return false, 0, nil
}

// writeReady flushes settled pairs in order. A pair is dropped only after
// both halves are written, so a failed pair is retried as is.
func (s *Synchronizer) writeReady(ctx context.Context) (int, error) {
	acc := &s.acc
	n := 0
	for len(acc.ready) > 0 {
		if err := s.flush(ctx, acc.ready[0]); err != nil {
			return n, err
		}
		acc.ready = acc.ready[1:]
		n++
	}
	return n, nil
}

// splitPair cuts both halves at the frame time cutUS.
func splitPair(p pair, cutUS float64) (head, tail pair, err error) {
	times := p[0].Timing().FrameTimesUS()
	mask := make([]bool, len(times))
	for i, t := range times {
		mask[i] = t < cutUS
	}
	rest := matcher.Invert(mask)
	for cam, f := range p {
		if head[cam], err = f.Subselect(mask); err != nil {
			return head, tail, fmt.Errorf("split %s: %w", f.Path(), err)
		}
		if tail[cam], err = f.Subselect(rest); err != nil {
			return head, tail, fmt.Errorf("split %s: %w", f.Path(), err)
		}
	}
	return head, tail, nil
}

// flush writes both halves under a shared start-time name with a camera
// suffix. A half already on disk from an earlier attempt is left alone.
func (s *Synchronizer) flush(ctx context.Context, p pair) error {
	for cam, f := range p {
		if f.OnDisk() {
			continue
		}
		if s.cfg.CompressOutput {
			if err := f.ConvertTo(frames.KindCompressedCube); err != nil {
				return err
			}
		}
		base := f.BaseName()
		if clock, ok := f.Header().String(frames.KeyUTStart); ok {
			prefix := f.Prefix()
			if prefix == "" {
				prefix = f.Stream()
			}
			base = prefix + "_" + clock
		}
		if err := f.RenameInFolder(fmt.Sprintf("%s.cam%d%s", base, cam+1, f.Kind().Ext())); err != nil {
			return err
		}
		if err := f.Disambiguate(); err != nil {
			return fmt.Errorf("flush %s: %w", f.Path(), err)
		}
		if err := f.WriteToDisk(); err != nil {
			return fmt.Errorf("flush %s: %w", f.Path(), err)
		}
		s.record(ctx, cam, f, ledger.OutcomeFlushed, fmt.Sprintf("%d synchronized frames", f.Frames()))
		s.metrics.ObserveFlush(cam+1, f.Frames())
	}
	return nil
}
