package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/keybox/
//   - Linux:   ~/.local/share/keybox/
//   - Windows: %APPDATA%\keybox\
//
// Falls back to ~/.keybox if platform detection fails.
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
//   - macOS:   ~/Library/Application Support/keybox/
//   - Linux:   ~/.config/keybox/
//   - Windows: %APPDATA%\keybox\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/keybox/
//   - Linux:   ~/.local/share/keybox/logs/
//   - Windows: %LOCALAPPDATA%\keybox\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return filepath.Join(linuxDataDir(), "logs")
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "keybox")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "keybox")
}

// Linux-specific paths following XDG Base Directory Specification

func linuxDataDir() string {
	// XDG_DATA_HOME or ~/.local/share
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "keybox")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "keybox")
}

func linuxConfigDir() string {
	// XDG_CONFIG_HOME or ~/.config
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "keybox")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keybox")
}

// Windows-specific paths

func windowsDataDir() string {
	// %APPDATA% (roaming)
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "keybox")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "keybox")
}

func windowsLogDir() string {
	// %LOCALAPPDATA% (local)
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "keybox", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "keybox", "logs")
}

// Fallback path (legacy compatibility)

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keybox")
}

// DefaultPaths returns all default paths for a platform.
type DefaultPaths struct {
	DataDir   string
	ConfigDir string
	LogDir    string

	// Specific file paths
	ConfigFile    string
	ContainerFile string
	LogFile       string
	AuditFile     string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	logDir := PlatformLogDir()

	return &DefaultPaths{
		DataDir:   dataDir,
		ConfigDir: configDir,
		LogDir:    logDir,

		ConfigFile:    filepath.Join(configDir, "config.toml"),
		ContainerFile: filepath.Join(dataDir, "key.keybox"),
		LogFile:       filepath.Join(logDir, "keybox.log"),
		AuditFile:     filepath.Join(logDir, "audit.log"),
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
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
	paths := GetDefaultPaths()

	// Search order:
	// 1. Current directory
	// 2. Config directory
	// 3. Data directory (legacy)
	searchDirs := []string{
		".",
		paths.ConfigDir,
		paths.DataDir,
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
