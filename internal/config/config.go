// Package config handles configuration loading, validation, and management for textreplacer.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Rule storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Rules configures where trigger/replacement pairs are stored.
	Rules RulesConfig `toml:"rules" json:"rules" yaml:"rules"`

	// Matching configures the input buffer.
	Matching MatchingConfig `toml:"matching" json:"matching" yaml:"matching"`

	// Replay configures synthetic keystroke timing.
	Replay ReplayConfig `toml:"replay" json:"replay" yaml:"replay"`

	// Monitor configures the keyboard hook.
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// RulesConfig holds rule persistence configuration.
type RulesConfig struct {
	// Backend is "json", "sqlite" or "memory".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Path is the rule file (json) or database (sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the rule file when it is edited outside the daemon.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// Seed installs the default rule when storage is missing or unreadable.
	Seed bool `toml:"seed" json:"seed" yaml:"seed"`
}

// MatchingConfig holds input buffer configuration.
type MatchingConfig struct {
	// BufferSize is the number of characters kept for suffix matching.
	BufferSize int `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`

	// ResetOnSpace treats the space bar as a buffer-clearing key.
	ResetOnSpace bool `toml:"reset_on_space" json:"reset_on_space" yaml:"reset_on_space"`

	// ResetOnChord clears the buffer when Command or Control is held.
	ResetOnChord bool `toml:"reset_on_chord" json:"reset_on_chord" yaml:"reset_on_chord"`
}

// ReplayConfig holds synthetic input timing.
type ReplayConfig struct {
	BackspaceDelayMs  int  `toml:"backspace_delay_ms" json:"backspace_delay_ms" yaml:"backspace_delay_ms"`
	KeystrokeDelayMs  int  `toml:"keystroke_delay_ms" json:"keystroke_delay_ms" yaml:"keystroke_delay_ms"`
	ClipboardSettleMs int  `toml:"clipboard_settle_ms" json:"clipboard_settle_ms" yaml:"clipboard_settle_ms"`
	QueueSize         int  `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
	ClipboardFallback bool `toml:"clipboard_fallback" json:"clipboard_fallback" yaml:"clipboard_fallback"`
}

// BackspaceDelay returns the pause between synthetic backspaces.
func (r ReplayConfig) BackspaceDelay() time.Duration {
	return time.Duration(r.BackspaceDelayMs) * time.Millisecond
}

// KeystrokeDelay returns the pause between replayed characters.
func (r ReplayConfig) KeystrokeDelay() time.Duration {
	return time.Duration(r.KeystrokeDelayMs) * time.Millisecond
}

// ClipboardSettle returns how long a paste is given before the clipboard is restored.
func (r ReplayConfig) ClipboardSettle() time.Duration {
	return time.Duration(r.ClipboardSettleMs) * time.Millisecond
}

// MonitorConfig holds keyboard hook configuration.
type MonitorConfig struct {
	// AutoStart enables replacement as soon as the daemon starts.
	AutoStart bool `toml:"auto_start" json:"auto_start" yaml:"auto_start"`

	// PromptPermission asks the OS for input monitoring access on start.
	PromptPermission bool `toml:"prompt_permission" json:"prompt_permission" yaml:"prompt_permission"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether rotated files are gzip compressed.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// LogReplacements writes expansion text to the log unredacted.
	LogReplacements bool `toml:"log_replacements" json:"log_replacements" yaml:"log_replacements"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the daemon serves the control socket.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the octal file mode applied to the socket.
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// TimeoutSec is the per-request read/write timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the request timeout as a duration.
func (i IPCConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSec) * time.Second
}

// Mode parses Permissions, falling back to 0600.
func (i IPCConfig) Mode() os.FileMode {
	v, err := strconv.ParseUint(i.Permissions, 8, 32)
	if err != nil || v == 0 {
		return 0o600
	}
	return os.FileMode(v)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Rules: RulesConfig{
			Backend: BackendJSON,
			Path:    paths.RulesFile,
			Watch:   true,
			Seed:    true,
		},
		Matching: MatchingConfig{
			BufferSize:   100,
			ResetOnSpace: true,
			ResetOnChord: true,
		},
		Replay: ReplayConfig{
			BackspaceDelayMs:  5,
			KeystrokeDelayMs:  10,
			ClipboardSettleMs: 50,
			QueueSize:         16,
			ClipboardFallback: true,
		},
		Monitor: MonitorConfig{
			AutoStart:        true,
			PromptPermission: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(paths.LogDir, "textreplacer.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:     true,
			SocketPath:  paths.SocketPath,
			Permissions: "0600",
			TimeoutSec:  5,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return GetDefaultPaths().ConfigFile
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns the default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadOrCreate loads the configuration from path, writing the defaults
// there first if no file exists. The boolean reports whether a file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// SaveConfig writes cfg to path in the format implied by its extension.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML, JSON (".json") or YAML (".yaml", ".yml").
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return data, nil
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Logging.FilePath),
	}
	if c.Rules.Backend != BackendMemory {
		dirs = append(dirs, filepath.Dir(c.Rules.Path))
	}
	if c.IPC.Enabled {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TEXTREPLACER_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TEXTREPLACER_RULES_BACKEND"); v != "" {
		c.Rules.Backend = v
	}
	if v := os.Getenv("TEXTREPLACER_RULES_PATH"); v != "" {
		c.Rules.Path = expandPath(v)
	}
	if v := os.Getenv("TEXTREPLACER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TEXTREPLACER_LOG_PATH"); v != "" {
		c.Logging.FilePath = expandPath(v)
	}
	if v := os.Getenv("TEXTREPLACER_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("TEXTREPLACER_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = expandPath(v)
	}
	if v := os.Getenv("TEXTREPLACER_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Monitor.AutoStart = b
		}
	}
}

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
