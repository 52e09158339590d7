package timinglog

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// ClockStats summarizes inter-frame intervals of one clock, in microseconds.
type ClockStats struct {
	Mean float64
	Std  float64
	Min  float64
	P1   float64
	P99  float64
	Max  float64
}

// Stats holds jitter for both clocks.
type Stats struct {
	Loop    ClockStats
	Grabber ClockStats
}

// Stats computes inter-frame interval statistics. ok is false with fewer
// than two frames.
func (l *Log) Stats() (Stats, bool) {
	if l.Len() < 2 {
		return Stats{}, false
	}
	return Stats{
		Loop:    clockStats(diffs(l.loopUS)),
		Grabber: clockStats(diffs(l.grabUS)),
	}, true
}

func diffs(values []float64) []float64 {
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func clockStats(deltas []float64) ClockStats {
	sorted := slices.Clone(deltas)
	slices.Sort(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return ClockStats{
		Mean: mean,
		Std:  std,
		Min:  sorted[0],
		P1:   stat.Quantile(0.01, stat.Empirical, sorted, nil),
		P99:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:  sorted[len(sorted)-1],
	}
}
