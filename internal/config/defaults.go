package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-appropriate data directory:
// ~/Library/Application Support/witnessd on macOS, XDG data on Linux,
// %APPDATA%\witnessd on Windows, ~/.witnessd elsewhere.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "witnessd")
	case "linux":
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "witnessd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "witnessd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "witnessd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "witnessd")
	default:
		return legacyDataDir()
	}
}

// PlatformConfigDir returns where the user-editable config file lives.
// macOS and Windows share the data directory; Linux follows XDG.
func PlatformConfigDir() string {
	if runtime.GOOS != "linux" {
		return PlatformDataDir()
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "witnessd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "witnessd")
}

// legacyDataDir is the original dot-directory layout.
func legacyDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".witnessd")
}

// resolveDataDir picks the daemon's working directory: an explicit
// WITNESSD_DATA_DIR wins; an existing legacy ~/.witnessd keeps being
// used so upgrades don't strand prior state; fresh installs get the
// platform directory.
func resolveDataDir() string {
	if envDir := os.Getenv("WITNESSD_DATA_DIR"); envDir != "" {
		return envDir
	}
	legacy := legacyDataDir()
	if info, err := os.Stat(legacy); err == nil && info.IsDir() {
		return legacy
	}
	return PlatformDataDir()
}
