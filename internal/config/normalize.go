package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStreams()
	c.normalizeSynchro()
	c.normalizeCompression()
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataRoot, err = expandPath(strings.TrimSpace(c.Paths.DataRoot)); err != nil {
		return fmt.Errorf("paths.data_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	return nil
}

func (c *Config) normalizeStreams() {
	c.Streams.Prefix = strings.TrimSpace(c.Streams.Prefix)
	c.Streams.Camera1 = strings.TrimSpace(c.Streams.Camera1)
	c.Streams.Camera2 = strings.TrimSpace(c.Streams.Camera2)
	if c.Streams.Prefix == "" {
		c.Streams.Prefix = defaultStreamPrefix
	}
	if c.Streams.Camera1 == "" {
		c.Streams.Camera1 = c.Streams.Prefix + "1"
	}
	if c.Streams.Camera2 == "" {
		c.Streams.Camera2 = c.Streams.Prefix + "2"
	}
}

func (c *Config) normalizeSynchro() {
	c.Synchro.ToleranceMode = strings.ToLower(strings.TrimSpace(c.Synchro.ToleranceMode))
	if c.Synchro.ToleranceMode == "" {
		c.Synchro.ToleranceMode = defaultToleranceMode
	}
	if c.Synchro.Throttle <= 0 {
		c.Synchro.Throttle = defaultThrottle
	}
}

func (c *Config) normalizeCompression() {
	c.Compression.Command = strings.TrimSpace(c.Compression.Command)
	if c.Compression.Command == "" {
		c.Compression.Command = defaultCompressionCommand
	}
	c.Compression.Suffix = strings.TrimSpace(c.Compression.Suffix)
	if c.Compression.Suffix == "" {
		c.Compression.Suffix = defaultCompressionSuffix
	}
	if !strings.HasPrefix(c.Compression.Suffix, ".") {
		c.Compression.Suffix = "." + c.Compression.Suffix
	}
}

func (c *Config) normalizeArchive() error {
	tiers := make([]string, 0, len(c.Archive.Tiers))
	for i, tier := range c.Archive.Tiers {
		tier = strings.TrimSpace(tier)
		if tier == "" {
			continue
		}
		expanded, err := expandPath(tier)
		if err != nil {
			return fmt.Errorf("archive.tiers[%d]: %w", i, err)
		}
		tiers = append(tiers, expanded)
	}
	c.Archive.Tiers = tiers

	streams := make([]string, 0, len(c.Archive.Streams))
	for _, s := range c.Archive.Streams {
		if s = strings.TrimSpace(s); s != "" {
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		streams = []string{c.SyncStream(), c.SoloStream(1), c.SoloStream(2)}
	}
	c.Archive.Streams = streams
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
