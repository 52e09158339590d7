package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataRoot    string `toml:"data_root"`
	LogDir      string `toml:"log_dir"`
	StateDir    string `toml:"state_dir"`
	MetricsBind string `toml:"metrics_bind"`
}

// Streams names the camera partitions and the prefix of derived partitions.
type Streams struct {
	Prefix  string `toml:"prefix"`
	Camera1 string `toml:"camera1"`
	Camera2 string `toml:"camera2"`
}

// Synchro tunes the pairwise matcher and the synchronizer loop.
type Synchro struct {
	ToleranceUS        float64 `toml:"tolerance_us"`
	ToleranceMode      string  `toml:"tolerance_mode"`
	LineTimeUS         float64 `toml:"line_time_us"`
	Adaptive           bool    `toml:"adaptive"`
	Strict             bool    `toml:"strict"`
	AdaptGrowth        float64 `toml:"adapt_growth"`
	AdaptDecay         float64 `toml:"adapt_decay"`
	AdaptMaxFactor     float64 `toml:"adapt_max_factor"`
	KeepRemainderBelow float64 `toml:"keep_remainder_below"`
	IdleSoloSeconds    int     `toml:"idle_solo_seconds"`
	Throttle           int     `toml:"throttle"`
	SeenRetentionHours int     `toml:"seen_retention_hours"`
}

// Accumulator controls how matched segments merge before reaching disk.
type Accumulator struct {
	MaxSpanSeconds   float64 `toml:"max_span_seconds"`
	MergeGapSeconds  float64 `toml:"merge_gap_seconds"`
	IdleFlushSeconds int     `toml:"idle_flush_seconds"`
	CompressOutput   bool    `toml:"compress_output"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	StagingMaxAgeHours  int `toml:"staging_max_age_hours"`
}

// Compression configures the external compressor run on finished outputs.
type Compression struct {
	Enabled bool     `toml:"enabled"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Suffix  string   `toml:"suffix"`
	MaxJobs int      `toml:"max_jobs"`
}

// Archive configures migration of finished partitions between storage tiers.
type Archive struct {
	Tiers             []string `toml:"tiers"`
	Streams           []string `toml:"streams"`
	WindowStartMinute int      `toml:"window_start_minute"`
	WindowStopMinute  int      `toml:"window_stop_minute"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for vampsync.
//
// Configuration sections by subsystem:
//   - Paths: data root, logs, daemon state and the metrics listener
//   - Streams: camera partition names
//   - Synchro: matcher tolerance and synchronizer loop limits
//   - Accumulator: merge and flush thresholds for synchronized output
//   - Workflow: polling cadence and crash-recovery sweep age
//   - Compression: external compressor jobs
//   - Archive: tier migration and its time window
//   - Logging: log format, level, and retention
type Config struct {
	Paths       Paths       `toml:"paths"`
	Streams     Streams     `toml:"streams"`
	Synchro     Synchro     `toml:"synchro"`
	Accumulator Accumulator `toml:"accumulator"`
	Workflow    Workflow    `toml:"workflow"`
	Compression Compression `toml:"compression"`
	Archive     Archive     `toml:"archive"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("vampsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataRoot, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CameraStream returns the input partition for camera 1 or 2.
func (c *Config) CameraStream(camera int) string {
	if camera == 2 {
		return c.Streams.Camera2
	}
	return c.Streams.Camera1
}

// SoloStream returns the partition for unsynchronized files of camera 1 or 2.
func (c *Config) SoloStream(camera int) string {
	return fmt.Sprintf("%ssolo%d", c.Streams.Prefix, camera)
}

// SyncStream returns the partition shared by synchronized output.
func (c *Config) SyncStream() string {
	return c.Streams.Prefix + "sync"
}

// BadStream returns the quarantine partition.
func (c *Config) BadStream() string {
	return c.Streams.Prefix + "bad"
}

// OutputStreams lists the derived partitions in display order.
func (c *Config) OutputStreams() []string {
	return []string{c.SyncStream(), c.SoloStream(1), c.SoloStream(2), c.BadStream()}
}

// LedgerPath returns the sqlite decision ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "vampsync.lock")
}

// PollInterval returns the daemon scan cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
