package synchro

import (
	"time"

	"vampsync/internal/config"
	"vampsync/internal/matcher"
)

// Config holds the stream names and thresholds of one camera pair.
type Config struct {
	Cameras     [2]string
	SoloStreams [2]string
	SyncStream  string
	BadStream   string

	Match         matcher.Options
	ToleranceMode string
	LineTimeUS    float64

	// KeepRemainderBelow is the matched ratio under which an unmatched
	// remainder is kept instead of discarded.
	KeepRemainderBelow float64
	IdleSolo           time.Duration
	Throttle           int

	MaxSpan        time.Duration
	MergeGap       time.Duration
	IdleFlush      time.Duration
	CompressOutput bool
}

// ConfigFromConfig derives synchronizer settings from the process config.
func ConfigFromConfig(cfg *config.Config) Config {
	s := cfg.Synchro
	a := cfg.Accumulator
	return Config{
		Cameras:     [2]string{cfg.CameraStream(1), cfg.CameraStream(2)},
		SoloStreams: [2]string{cfg.SoloStream(1), cfg.SoloStream(2)},
		SyncStream:  cfg.SyncStream(),
		BadStream:   cfg.BadStream(),
		Match: matcher.Options{
			ToleranceUS: s.ToleranceUS,
			Adaptive:    s.Adaptive,
			Strict:      s.Strict,
			Growth:      s.AdaptGrowth,
			Decay:       s.AdaptDecay,
			MaxFactor:   s.AdaptMaxFactor,
		},
		ToleranceMode:      s.ToleranceMode,
		LineTimeUS:         s.LineTimeUS,
		KeepRemainderBelow: s.KeepRemainderBelow,
		IdleSolo:           time.Duration(s.IdleSoloSeconds) * time.Second,
		Throttle:           s.Throttle,
		MaxSpan:            seconds(a.MaxSpanSeconds),
		MergeGap:           seconds(a.MergeGapSeconds),
		IdleFlush:          time.Duration(a.IdleFlushSeconds) * time.Second,
		CompressOutput:     a.CompressOutput,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
