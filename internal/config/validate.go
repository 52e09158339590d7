package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStreams(); err != nil {
		return err
	}
	if err := c.validateSynchro(); err != nil {
		return err
	}
	if err := c.validateAccumulator(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateCompression(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataRoot == "" {
		return errors.New("paths.data_root must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateStreams() error {
	if c.Streams.Camera1 == c.Streams.Camera2 {
		return fmt.Errorf("streams.camera1 and streams.camera2 must differ (both %q)", c.Streams.Camera1)
	}
	for _, derived := range c.OutputStreams() {
		if derived == c.Streams.Camera1 || derived == c.Streams.Camera2 {
			return fmt.Errorf("stream %q collides with a derived partition name", derived)
		}
	}
	return nil
}

func (c *Config) validateSynchro() error {
	s := c.Synchro
	if s.ToleranceUS <= 0 {
		return errors.New("synchro.tolerance_us must be positive")
	}
	switch s.ToleranceMode {
	case ToleranceFixed:
	case ToleranceReadout:
		if s.LineTimeUS <= 0 {
			return errors.New("synchro.line_time_us must be positive when tolerance_mode is readout")
		}
	default:
		return fmt.Errorf("synchro.tolerance_mode must be %q or %q, got %q", ToleranceFixed, ToleranceReadout, s.ToleranceMode)
	}
	if s.Adaptive {
		if s.AdaptGrowth < 1 {
			return errors.New("synchro.adapt_growth must be >= 1")
		}
		if s.AdaptDecay <= 0 || s.AdaptDecay > 1 {
			return errors.New("synchro.adapt_decay must be in (0, 1]")
		}
		if s.AdaptMaxFactor < 1 {
			return errors.New("synchro.adapt_max_factor must be >= 1")
		}
	}
	if s.KeepRemainderBelow <= 0 || s.KeepRemainderBelow > 1 {
		return errors.New("synchro.keep_remainder_below must be in (0, 1]")
	}
	if s.IdleSoloSeconds <= 0 {
		return errors.New("synchro.idle_solo_seconds must be positive")
	}
	if s.SeenRetentionHours <= 0 {
		return errors.New("synchro.seen_retention_hours must be positive")
	}
	return nil
}

func (c *Config) validateAccumulator() error {
	a := c.Accumulator
	if a.MaxSpanSeconds <= 0 {
		return errors.New("accumulator.max_span_seconds must be positive")
	}
	if a.MergeGapSeconds < 0 {
		return errors.New("accumulator.merge_gap_seconds must be >= 0")
	}
	if a.IdleFlushSeconds <= 0 {
		return errors.New("accumulator.idle_flush_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollIntervalSeconds <= 0 {
		return errors.New("workflow.poll_interval_seconds must be positive")
	}
	if c.Workflow.StagingMaxAgeHours <= 0 {
		return errors.New("workflow.staging_max_age_hours must be positive")
	}
	return nil
}

func (c *Config) validateCompression() error {
	if c.Compression.MaxJobs <= 0 {
		return errors.New("compression.max_jobs must be positive")
	}
	return nil
}

func (c *Config) validateArchive() error {
	for _, minute := range []int{c.Archive.WindowStartMinute, c.Archive.WindowStopMinute} {
		if minute < 0 || minute >= 24*60 {
			return fmt.Errorf("archive window minute %d outside [0, 1440)", minute)
		}
	}
	for i, tier := range c.Archive.Tiers {
		if tier == c.Paths.DataRoot {
			return fmt.Errorf("archive.tiers[%d] must differ from paths.data_root", i)
		}
		if slices.Contains(c.Archive.Tiers[:i], tier) {
			return fmt.Errorf("archive.tiers[%d] duplicates an earlier tier", i)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
