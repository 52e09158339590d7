// Package matcher pairs frames of two independently clocked cameras by
// timestamp proximity.
//
// Match sweeps both time-sorted arrays with two pointers: heads within
// tolerance pair up and both advance, otherwise the earlier head is skipped.
// Each frame pairs at most once and no pairing is revisited, so the cost is
// linear in the total frame count. Equal timestamps count camera 1 as the
// earlier stream.
//
// In adaptive mode the working tolerance grows by Growth after each pair, up
// to MaxFactor times the base, and decays by Decay toward the base after each
// skip. The constants are tunables; they absorb slow clock drift but carry
// no correctness guarantee.
package matcher

import "math"

// Options configures a match.
type Options struct {
	ToleranceUS float64
	Adaptive    bool
	// Strict pairs only differences below the tolerance, and keeps the
	// tolerance fixed even when Adaptive is set.
	Strict bool
	Growth      float64
	Decay       float64
	MaxFactor   float64
}

// DefaultOptions returns an 80 microsecond adaptive window.
func DefaultOptions() Options {
	return Options{
		ToleranceUS: 80,
		Adaptive:    true,
		Growth:      1.1,
		Decay:       0.9,
		MaxFactor:   2.5,
	}
}

// WithTolerance returns a copy of o using the given base tolerance.
func (o Options) WithTolerance(us float64) Options {
	o.ToleranceUS = us
	return o
}

// Result holds the per-frame masks of a match.
type Result struct {
	MaskA []bool
	MaskB []bool
	Pairs int
	// FinalToleranceUS is the working tolerance when the sweep ended.
	FinalToleranceUS float64
}

// RatioA is the matched fraction of stream A.
func (r Result) RatioA() float64 { return ratio(r.Pairs, len(r.MaskA)) }

// RatioB is the matched fraction of stream B.
func (r Result) RatioB() float64 { return ratio(r.Pairs, len(r.MaskB)) }

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// Match pairs timesA and timesB, both ascending microsecond timestamps.
func Match(timesA, timesB []float64, opts Options) Result {
	res := Result{
		MaskA: make([]bool, len(timesA)),
		MaskB: make([]bool, len(timesB)),
	}
	base := opts.ToleranceUS
	tol := base
	ceiling := base
	adaptive := opts.Adaptive && !opts.Strict
	if adaptive && opts.MaxFactor > 1 {
		ceiling = base * opts.MaxFactor
	}

	within := func(diff float64) bool {
		if opts.Strict {
			return diff < tol
		}
		return diff <= tol
	}

	i, j := 0, 0
	for i < len(timesA) && j < len(timesB) {
		a, b := timesA[i], timesB[j]
		if within(math.Abs(a - b)) {
			res.MaskA[i] = true
			res.MaskB[j] = true
			res.Pairs++
			i++
			j++
			if adaptive && opts.Growth > 0 {
				tol = math.Min(tol*opts.Growth, ceiling)
			}
			continue
		}
		if a <= b {
			i++
		} else {
			j++
		}
		if adaptive && opts.Decay > 0 {
			tol = math.Max(tol*opts.Decay, base)
		}
	}
	res.FinalToleranceUS = tol
	return res
}

// Midpoints returns the element-wise midpoint of two equally long arrays.
func Midpoints(a, b []float64) []float64 {
	n := min(len(a), len(b))
	out := make([]float64, n)
	for i := range n {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

// Invert returns the element-wise negation of mask.
func Invert(mask []bool) []bool {
	out := make([]bool, len(mask))
	for i, m := range mask {
		out[i] = !m
	}
	return out
}

// Count returns the number of true entries.
func Count(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
