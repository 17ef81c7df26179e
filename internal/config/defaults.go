package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DataDir returns the base textreplacer directory, honouring the
// TEXTREPLACER_DATA_DIR override.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/TextReplacer/
//   - Linux:   $XDG_DATA_HOME/textreplacer/ (~/.local/share/textreplacer/)
//   - Windows: %APPDATA%\textreplacer\
func DataDir() string {
	if envDir := os.Getenv("TEXTREPLACER_DATA_DIR"); envDir != "" {
		return expandPath(envDir)
	}
	return PlatformDataDir()
}

// PlatformDataDir returns the platform-specific data directory.
func PlatformDataDir() string {
	home := homeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "TextReplacer")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "textreplacer")
		}
		return filepath.Join(home, "AppData", "Roaming", "textreplacer")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "textreplacer")
		}
		return filepath.Join(home, ".local", "share", "textreplacer")
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/TextReplacer/
//   - others:  <data dir>/logs/
func PlatformLogDir() string {
	if runtime.GOOS == "darwin" && os.Getenv("TEXTREPLACER_DATA_DIR") == "" {
		return filepath.Join(homeDir(), "Library", "Logs", "TextReplacer")
	}
	return filepath.Join(DataDir(), "logs")
}

// PlatformRuntimeDir returns the directory for the control socket.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "darwin":
		return DataDir()
	case "windows":
		return ""
	default:
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "textreplacer")
		}
		return filepath.Join(os.TempDir(), "textreplacer-"+strconv.Itoa(os.Getuid()))
	}
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

// DefaultPaths contains all default file paths.
type DefaultPaths struct {
	DataDir    string
	LogDir     string
	RuntimeDir string

	ConfigFile string
	RulesFile  string
	RulesDB    string
	SocketPath string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := DataDir()
	runtimeDir := PlatformRuntimeDir()

	socket := filepath.Join(runtimeDir, "textreplacer.sock")

	return &DefaultPaths{
		DataDir:    dataDir,
		LogDir:     PlatformLogDir(),
		RuntimeDir: runtimeDir,
		ConfigFile: filepath.Join(dataDir, "config.toml"),
		RulesFile:  filepath.Join(dataDir, "rules.json"),
		RulesDB:    filepath.Join(dataDir, "rules.db"),
		SocketPath: socket,
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the current directory and then the data
// directory for config.<ext>. Returns "" if none is found.
func FindConfigFile() string {
	for _, dir := range []string{".", DataDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
