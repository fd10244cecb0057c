package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "kmsend"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/kmsend/
//   - Linux:   ~/.local/share/kmsend/
//   - Windows: %APPDATA%\kmsend\
//
// Falls back to ~/.kmsend if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/kmsend/
//   - Linux:   ~/.config/kmsend/
//   - Windows: %APPDATA%\kmsend\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		return linuxConfigDir()
	default:
		return PlatformDataDir()
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func macOSDataDir() string {
	return filepath.Join(homeDir(), "Library", "Application Support", appDirName)
}

// Linux paths follow the XDG Base Directory layout.

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appDirName)
	}
	return filepath.Join(homeDir(), ".local", "share", appDirName)
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appDirName)
	}
	return filepath.Join(homeDir(), ".config", appDirName)
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, appDirName)
	}
	return filepath.Join(homeDir(), "AppData", "Roaming", appDirName)
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), "."+appDirName)
}

// SupportedConfigFormats lists the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order: current directory, then the config directory.
	searchDirs := []string{
		".",
		PlatformConfigDir(),
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
