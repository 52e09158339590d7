package config

const (
	defaultConfigPath          = "~/.config/vampsync/config.toml"
	defaultDataRoot            = "/mnt/tier0"
	defaultLogDir              = "~/.local/share/vampsync/logs"
	defaultStateDir            = "~/.local/share/vampsync/state"
	defaultLogRetentionDays    = 30
	defaultStreamPrefix        = "vcam"
	defaultCamera1             = "vcam1"
	defaultCamera2             = "vcam2"
	defaultToleranceUS         = 80.0
	defaultToleranceMode       = ToleranceFixed
	defaultAdaptGrowth         = 1.1
	defaultAdaptDecay          = 0.9
	defaultAdaptMaxFactor      = 2.5
	defaultKeepRemainderBelow  = 0.95
	defaultIdleSoloSeconds     = 60
	defaultThrottle            = 100
	defaultSeenRetentionHours  = 24
	defaultMaxSpanSeconds      = 10.0
	defaultMergeGapSeconds     = 3.0
	defaultIdleFlushSeconds    = 30
	defaultPollIntervalSeconds = 5
	defaultStagingMaxAgeHours  = 6
	defaultCompressionCommand  = "fpack"
	defaultCompressionSuffix   = ".fz"
	defaultCompressionMaxJobs  = 15
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Tolerance modes for the pairwise matcher.
const (
	ToleranceFixed   = "fixed"
	ToleranceReadout = "readout"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataRoot: defaultDataRoot,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Streams: Streams{
			Prefix:  defaultStreamPrefix,
			Camera1: defaultCamera1,
			Camera2: defaultCamera2,
		},
		Synchro: Synchro{
			ToleranceUS:        defaultToleranceUS,
			ToleranceMode:      defaultToleranceMode,
			Adaptive:           true,
			AdaptGrowth:        defaultAdaptGrowth,
			AdaptDecay:         defaultAdaptDecay,
			AdaptMaxFactor:     defaultAdaptMaxFactor,
			KeepRemainderBelow: defaultKeepRemainderBelow,
			IdleSoloSeconds:    defaultIdleSoloSeconds,
			Throttle:           defaultThrottle,
			SeenRetentionHours: defaultSeenRetentionHours,
		},
		Accumulator: Accumulator{
			MaxSpanSeconds:   defaultMaxSpanSeconds,
			MergeGapSeconds:  defaultMergeGapSeconds,
			IdleFlushSeconds: defaultIdleFlushSeconds,
		},
		Workflow: Workflow{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			StagingMaxAgeHours:  defaultStagingMaxAgeHours,
		},
		Compression: Compression{
			Command: defaultCompressionCommand,
			Args:    []string{"-h", "-s", "0", "-q", "20"},
			Suffix:  defaultCompressionSuffix,
			MaxJobs: defaultCompressionMaxJobs,
		},
		Archive: Archive{
			WindowStartMinute: 0,
			WindowStopMinute:  0,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
