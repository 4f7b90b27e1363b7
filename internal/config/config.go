// Package config handles configuration loading and validation for witnessd.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"witnessd/internal/anchors"
	"witnessd/internal/fingerprint"
	"witnessd/internal/jitter"
	"witnessd/internal/trigger"
	"witnessd/internal/vdf"
)

// Config holds the daemon configuration.
type Config struct {
	// WatchPaths is a list of directories to monitor for changes.
	WatchPaths []string `toml:"watch_paths"`

	// Interval is the debounce interval in seconds.
	// Files must be stable for this duration before witnessing.
	Interval int `toml:"interval"`

	// DatabasePath is the path to the MMR database file.
	DatabasePath string `toml:"database_path"`

	// LogPath is the path to the daemon log file.
	LogPath string `toml:"log_path"`

	// SigningKeyPath is the path to the Ed25519 private key.
	SigningKeyPath string `toml:"signing_key_path"`

	// SignaturesPath is the path to store signature mappings.
	SignaturesPath string `toml:"signatures_path"`

	// EventStorePath is the path to the SQLite event store database.
	EventStorePath string `toml:"event_store_path"`

	// Trigger calibrates the checkpoint firing thresholds.
	Trigger TriggerConfig `toml:"trigger"`

	// Fingerprint calibrates the forgery-detector thresholds.
	Fingerprint FingerprintConfig `toml:"fingerprint"`

	// VDF calibrates the delay-function parameters.
	VDF VDFConfig `toml:"vdf"`

	// Anchors configures the external timestamp providers.
	Anchors AnchorsConfig `toml:"anchors"`

	// Jitter configures the opt-in jitter steganography chain.
	Jitter JitterConfig `toml:"jitter"`
}

// JitterConfig is the TOML-serializable form of the jitter chain
// parameters. Jitter steganography is opt-in; Enabled defaults to
// false.
type JitterConfig struct {
	Enabled bool   `toml:"enabled"`
	Mode    string `toml:"mode"` // "first_move_only", "timing_only", or "sub_pixel"
	MinUs   uint32 `toml:"min_us"`
	MaxUs   uint32 `toml:"max_us"`
}

// ToMode parses the configured mode string, defaulting to TimingOnly for
// an unrecognized value.
func (j JitterConfig) ToMode() jitter.Mode {
	switch j.Mode {
	case "first_move_only":
		return jitter.FirstMoveOnly
	case "sub_pixel":
		return jitter.SubPixel
	default:
		return jitter.TimingOnly
	}
}

func defaultJitterConfig() JitterConfig {
	return JitterConfig{
		Enabled: false,
		Mode:    "timing_only",
		MinUs:   200,
		MaxUs:   4000,
	}
}

// TriggerConfig is the TOML-serializable form of trigger.Config (durations
// round-trip as seconds so the file stays human-editable).
type TriggerConfig struct {
	MinKeystrokes        uint64  `toml:"min_keystrokes"`
	MaxKeystrokes        uint64  `toml:"max_keystrokes"`
	PauseThresholdS      float64 `toml:"pause_threshold_s"`
	EntropyThresholdBits float64 `toml:"entropy_threshold_bits"`
	SizeDeltaBytes       int64   `toml:"size_delta_bytes"`
	MaxTimeIntervalS     float64 `toml:"max_time_interval_s"`
}

// ToTriggerConfig converts to trigger.Config for use by the checkpoint
// pipeline.
func (t TriggerConfig) ToTriggerConfig() trigger.Config {
	return trigger.Config{
		MinKeystrokes:        t.MinKeystrokes,
		MaxKeystrokes:        t.MaxKeystrokes,
		PauseThreshold:       time.Duration(t.PauseThresholdS * float64(time.Second)),
		EntropyThresholdBits: t.EntropyThresholdBits,
		SizeDeltaBytes:       t.SizeDeltaBytes,
		MaxTimeInterval:      time.Duration(t.MaxTimeIntervalS * float64(time.Second)),
	}
}

func defaultTriggerConfig() TriggerConfig {
	d := trigger.DefaultConfig()
	return TriggerConfig{
		MinKeystrokes:        d.MinKeystrokes,
		MaxKeystrokes:        d.MaxKeystrokes,
		PauseThresholdS:      d.PauseThreshold.Seconds(),
		EntropyThresholdBits: d.EntropyThresholdBits,
		SizeDeltaBytes:       d.SizeDeltaBytes,
		MaxTimeIntervalS:     d.MaxTimeInterval.Seconds(),
	}
}

// FingerprintConfig is the TOML-serializable form of fingerprint.Thresholds.
type FingerprintConfig struct {
	CoefficientOfVariation float64 `toml:"coefficient_of_variation"`
	Skewness               float64 `toml:"skewness"`
	MicroPauseFraction     float64 `toml:"micro_pause_fraction"`
	SuperhumanFraction     float64 `toml:"superhuman_fraction"`
	MicroPauseMinMs        float64 `toml:"micro_pause_min_ms"`
	MicroPauseMaxMs        float64 `toml:"micro_pause_max_ms"`
	SuperhumanMaxMs        float64 `toml:"superhuman_max_ms"`
	LongPauseMs            float64 `toml:"long_pause_ms"`
	BurstGapMs             float64 `toml:"burst_gap_ms"`
	IntervalFloorMs        float64 `toml:"interval_floor_ms"`
	IntervalCeilMs         float64 `toml:"interval_ceil_ms"`
}

// ToThresholds converts to fingerprint.Thresholds for use by the forgery
// detector.
func (f FingerprintConfig) ToThresholds() fingerprint.Thresholds {
	return fingerprint.Thresholds{
		CoefficientOfVariation: f.CoefficientOfVariation,
		Skewness:               f.Skewness,
		MicroPauseFraction:     f.MicroPauseFraction,
		SuperhumanFraction:     f.SuperhumanFraction,
		MicroPauseMin:          f.MicroPauseMinMs,
		MicroPauseMax:          f.MicroPauseMaxMs,
		SuperhumanMaxMs:        f.SuperhumanMaxMs,
		LongPauseMs:            f.LongPauseMs,
		BurstGapMs:             f.BurstGapMs,
		IntervalFloorMs:        f.IntervalFloorMs,
		IntervalCeilMs:         f.IntervalCeilMs,
	}
}

func defaultFingerprintConfig() FingerprintConfig {
	d := fingerprint.DefaultThresholds()
	return FingerprintConfig{
		CoefficientOfVariation: d.CoefficientOfVariation,
		Skewness:               d.Skewness,
		MicroPauseFraction:     d.MicroPauseFraction,
		SuperhumanFraction:     d.SuperhumanFraction,
		MicroPauseMinMs:        d.MicroPauseMin,
		MicroPauseMaxMs:        d.MicroPauseMax,
		SuperhumanMaxMs:        d.SuperhumanMaxMs,
		LongPauseMs:            d.LongPauseMs,
		BurstGapMs:             d.BurstGapMs,
		IntervalFloorMs:        d.IntervalFloorMs,
		IntervalCeilMs:         d.IntervalCeilMs,
	}
}

// VDFConfig is the TOML-serializable form of vdf.Parameters.
type VDFConfig struct {
	IterationsPerSecond uint64 `toml:"iterations_per_second"`
	MinIterations       uint64 `toml:"min_iterations"`
	MaxIterations       uint64 `toml:"max_iterations"`
}

// ToParameters converts to vdf.Parameters.
func (v VDFConfig) ToParameters() vdf.Parameters {
	return vdf.Parameters{
		IterationsPerSecond: v.IterationsPerSecond,
		MinIterations:       v.MinIterations,
		MaxIterations:       v.MaxIterations,
	}
}

func defaultVDFConfig() VDFConfig {
	d := vdf.DefaultParameters()
	return VDFConfig{
		IterationsPerSecond: d.IterationsPerSecond,
		MinIterations:       d.MinIterations,
		MaxIterations:       d.MaxIterations,
	}
}

// AnchorsConfig configures the external timestamp providers.
type AnchorsConfig struct {
	OTSCalendars   []string `toml:"ots_calendars"`
	RFC3161Servers []string `toml:"rfc3161_servers"`
}

// ToOTSConfig converts to anchors.OTSConfig, leaving zero-valued fields (the
// anchor constructor fills in its own defaults for timeout/retry knobs not
// exposed here).
func (a AnchorsConfig) ToOTSConfig() anchors.OTSConfig {
	return anchors.OTSConfig{Calendars: a.OTSCalendars}
}

// ToRFC3161Config converts to anchors.RFC3161Config.
func (a AnchorsConfig) ToRFC3161Config() anchors.RFC3161Config {
	return anchors.RFC3161Config{Servers: a.RFC3161Servers}
}

func defaultAnchorsConfig() AnchorsConfig {
	return AnchorsConfig{
		OTSCalendars:   []string{"https://alice.btc.calendar.opentimestamps.org", "https://bob.btc.calendar.opentimestamps.org"},
		RFC3161Servers: []string{"https://freetsa.org/tsr"},
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	witnessdDir := filepath.Join(homeDir, ".witnessd")

	return &Config{
		WatchPaths:     []string{},
		Interval:       5,
		DatabasePath:   filepath.Join(witnessdDir, "mmr.db"),
		LogPath:        filepath.Join(witnessdDir, "witnessd.log"),
		SigningKeyPath: filepath.Join(homeDir, ".ssh", "witnessd_signing_key"),
		SignaturesPath: filepath.Join(witnessdDir, "signatures.sigs"),
		EventStorePath: filepath.Join(witnessdDir, "events.db"),
		Trigger:        defaultTriggerConfig(),
		Fingerprint:    defaultFingerprintConfig(),
		VDF:            defaultVDFConfig(),
		Anchors:        defaultAnchorsConfig(),
		Jitter:         defaultJitterConfig(),
	}
}

// ConfigPath returns the default configuration file path, preferring a
// config.toml already sitting in the data directory before the
// platform config directory.
func ConfigPath() string {
	dataPath := filepath.Join(WitnessdDir(), "config.toml")
	if _, err := os.Stat(dataPath); err == nil {
		return dataPath
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Interval < 1 {
		return errors.New("config: interval must be at least 1 second")
	}

	if c.DatabasePath == "" {
		return errors.New("config: database_path is required")
	}

	if c.SigningKeyPath == "" {
		return errors.New("config: signing_key_path is required")
	}

	if c.Trigger.MinKeystrokes >= c.Trigger.MaxKeystrokes && c.Trigger.MaxKeystrokes != 0 {
		return errors.New("config: trigger.min_keystrokes must be less than trigger.max_keystrokes")
	}

	if c.VDF.MinIterations > c.VDF.MaxIterations && c.VDF.MaxIterations != 0 {
		return errors.New("config: vdf.min_iterations must not exceed vdf.max_iterations")
	}

	return nil
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.DatabasePath),
		filepath.Dir(c.LogPath),
		filepath.Dir(c.SignaturesPath),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}

// WitnessdDir returns the daemon's data directory (see resolveDataDir
// for the override and migration rules).
func WitnessdDir() string {
	return resolveDataDir()
}
