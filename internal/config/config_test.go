package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"witnessd/internal/jitter"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	require.Equal(t, 5, cfg.Interval)
	require.Empty(t, cfg.WatchPaths)

	require.Contains(t, cfg.DatabasePath, "witnessd")
	require.Contains(t, cfg.LogPath, "witnessd")
	require.Contains(t, cfg.SignaturesPath, "witnessd")
	require.Contains(t, cfg.EventStorePath, "witnessd")
}

func TestDefaultConfigCalibration(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, uint64(5), cfg.Trigger.MinKeystrokes)
	require.Greater(t, cfg.Trigger.MaxKeystrokes, cfg.Trigger.MinKeystrokes)
	require.Equal(t, 0.2, cfg.Fingerprint.CoefficientOfVariation)
	require.Equal(t, 0.2, cfg.Fingerprint.Skewness)
	require.Positive(t, cfg.VDF.IterationsPerSecond)
	require.NotEmpty(t, cfg.Anchors.OTSCalendars)
	require.NotEmpty(t, cfg.Anchors.RFC3161Servers)
}

func TestTriggerConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	tc := cfg.Trigger.ToTriggerConfig()
	require.Equal(t, cfg.Trigger.MinKeystrokes, tc.MinKeystrokes)
	require.Equal(t, cfg.Trigger.MaxKeystrokes, tc.MaxKeystrokes)
	require.InDelta(t, cfg.Trigger.PauseThresholdS, tc.PauseThreshold.Seconds(), 0.001)
}

func TestFingerprintConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	th := cfg.Fingerprint.ToThresholds()
	require.Equal(t, cfg.Fingerprint.CoefficientOfVariation, th.CoefficientOfVariation)
	require.Equal(t, cfg.Fingerprint.MicroPauseMinMs, th.MicroPauseMin)
}

func TestVDFConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	params := cfg.VDF.ToParameters()
	require.Equal(t, cfg.VDF.IterationsPerSecond, params.IterationsPerSecond)
	require.Equal(t, cfg.VDF.MinIterations, params.MinIterations)
	require.Equal(t, cfg.VDF.MaxIterations, params.MaxIterations)
}

func TestAnchorsConfigConversion(t *testing.T) {
	cfg := DefaultConfig()
	ots := cfg.Anchors.ToOTSConfig()
	require.Equal(t, cfg.Anchors.OTSCalendars, ots.Calendars)
	tsa := cfg.Anchors.ToRFC3161Config()
	require.Equal(t, cfg.Anchors.RFC3161Servers, tsa.Servers)
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	require.NotEmpty(t, path)
	require.True(t, strings.HasSuffix(path, "config.toml"))
	require.Contains(t, path, "witnessd")
}

func TestWitnessdDir(t *testing.T) {
	dir := WitnessdDir()
	require.NotEmpty(t, dir)
	require.Contains(t, filepath.Base(dir), "witnessd")
}

func TestWitnessdDirEnvOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv("WITNESSD_DATA_DIR", override)
	require.Equal(t, override, WitnessdDir())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, 5, cfg.Interval)
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
watch_paths = ["/tmp/docs", "/tmp/notes"]
interval = 10
database_path = "/custom/path/mmr.db"
log_path = "/custom/path/witnessd.log"
signing_key_path = "/custom/path/key"
signatures_path = "/custom/path/sigs"
event_store_path = "/custom/path/events.db"

[trigger]
min_keystrokes = 3
max_keystrokes = 50
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Equal(t, []string{"/tmp/docs", "/tmp/notes"}, cfg.WatchPaths)
	require.Equal(t, 10, cfg.Interval)
	require.Equal(t, "/custom/path/mmr.db", cfg.DatabasePath)
	require.Equal(t, "/custom/path/witnessd.log", cfg.LogPath)
	require.Equal(t, "/custom/path/key", cfg.SigningKeyPath)
	require.Equal(t, "/custom/path/sigs", cfg.SignaturesPath)
	require.Equal(t, "/custom/path/events.db", cfg.EventStorePath)
	require.Equal(t, uint64(3), cfg.Trigger.MinKeystrokes)
	require.Equal(t, uint64(50), cfg.Trigger.MaxKeystrokes)
}

func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
interval = 15
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Equal(t, 15, cfg.Interval)
	require.Contains(t, cfg.DatabasePath, "witnessd")
	require.Equal(t, DefaultConfig().VDF.IterationsPerSecond, cfg.VDF.IterationsPerSecond)
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, os.WriteFile(configPath, []byte("this is not valid toml {{{"), 0600))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateInvalidInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 0
	require.Error(t, cfg.Validate())

	cfg.Interval = -1
	require.Error(t, cfg.Validate())
}

func TestValidateMissingDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateMissingSigningKeyPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SigningKeyPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateTriggerThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trigger.MinKeystrokes = 100
	cfg.Trigger.MaxKeystrokes = 10
	require.Error(t, cfg.Validate())
}

func TestValidateVDFBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VDF.MinIterations = 1000
	cfg.VDF.MaxIterations = 10
	require.Error(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		DatabasePath:   filepath.Join(tmpDir, "subdir1", "mmr.db"),
		LogPath:        filepath.Join(tmpDir, "subdir2", "witnessd.log"),
		SignaturesPath: filepath.Join(tmpDir, "subdir3", "sigs"),
	}

	require.NoError(t, cfg.EnsureDirectories())

	require.DirExists(t, filepath.Join(tmpDir, "subdir1"))
	require.DirExists(t, filepath.Join(tmpDir, "subdir2"))
	require.DirExists(t, filepath.Join(tmpDir, "subdir3"))
}

func TestEnsureDirectoriesEmptyPaths(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.EnsureDirectories())
}

func TestEnsureDirectoriesNestedPaths(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		DatabasePath:   filepath.Join(tmpDir, "a", "b", "c", "d", "mmr.db"),
		LogPath:        filepath.Join(tmpDir, "e", "f", "g", "witnessd.log"),
		SignaturesPath: filepath.Join(tmpDir, "h", "i", "j", "sigs"),
	}

	require.NoError(t, cfg.EnsureDirectories())
	require.DirExists(t, filepath.Join(tmpDir, "a", "b", "c", "d"))
}

func TestConfigWithComments(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
# This is a comment
watch_paths = ["/tmp/docs"] # inline comment
interval = 7 # another inline comment
# database_path = "/commented/out"
database_path = "/actual/path/mmr.db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Equal(t, 7, cfg.Interval)
	require.Equal(t, "/actual/path/mmr.db", cfg.DatabasePath)
}

func TestConfigEmptyWatchPaths(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
watch_paths = []
interval = 5
database_path = "/path/mmr.db"
signing_key_path = "/path/key"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Empty(t, cfg.WatchPaths)
}

func TestConfigMultipleWatchPaths(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
watch_paths = [
    "/path/one",
    "/path/two",
    "/path/three",
    "/path/four",
    "/path/five"
]
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Len(t, cfg.WatchPaths, 5)
}

func TestJitterConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	require.False(t, cfg.Jitter.Enabled)
	require.Equal(t, "timing_only", cfg.Jitter.Mode)
	require.Equal(t, jitter.TimingOnly, cfg.Jitter.ToMode())
	require.Positive(t, cfg.Jitter.MaxUs)
	require.Less(t, cfg.Jitter.MinUs, cfg.Jitter.MaxUs)
}

func TestJitterConfigModeParsing(t *testing.T) {
	cases := map[string]jitter.Mode{
		"first_move_only": jitter.FirstMoveOnly,
		"timing_only":      jitter.TimingOnly,
		"sub_pixel":        jitter.SubPixel,
		"bogus":            jitter.TimingOnly,
		"":                 jitter.TimingOnly,
	}
	for mode, want := range cases {
		jc := JitterConfig{Mode: mode}
		require.Equal(t, want, jc.ToMode(), "mode %q", mode)
	}
}

func TestJitterConfigFromTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
[jitter]
enabled = true
mode = "sub_pixel"
min_us = 100
max_us = 2000
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.True(t, cfg.Jitter.Enabled)
	require.Equal(t, jitter.SubPixel, cfg.Jitter.ToMode())
	require.Equal(t, uint32(100), cfg.Jitter.MinUs)
	require.Equal(t, uint32(2000), cfg.Jitter.MaxUs)
}
