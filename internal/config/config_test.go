package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("TEXTREPLACER_DATA_DIR", t.TempDir())
	cfg := DefaultConfig()

	if cfg.Rules.Backend != BackendJSON {
		t.Errorf("expected json backend, got %s", cfg.Rules.Backend)
	}
	if !strings.HasSuffix(cfg.Rules.Path, "rules.json") {
		t.Errorf("rules path should end with rules.json: %s", cfg.Rules.Path)
	}
	if cfg.Matching.BufferSize != 100 {
		t.Errorf("expected buffer size 100, got %d", cfg.Matching.BufferSize)
	}
	if cfg.Replay.BackspaceDelay() != 5*time.Millisecond {
		t.Errorf("expected 5ms backspace delay, got %v", cfg.Replay.BackspaceDelay())
	}
	if cfg.Replay.KeystrokeDelay() != 10*time.Millisecond {
		t.Errorf("expected 10ms keystroke delay, got %v", cfg.Replay.KeystrokeDelay())
	}
	if cfg.Replay.ClipboardSettle() != 50*time.Millisecond {
		t.Errorf("expected 50ms clipboard settle, got %v", cfg.Replay.ClipboardSettle())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEXTREPLACER_DATA_DIR", dir)

	if got := DataDir(); got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}
	if got := ConfigPath(); got != filepath.Join(dir, "config.toml") {
		t.Errorf("unexpected config path %s", got)
	}
	if got := GetDefaultPaths().RulesFile; got != filepath.Join(dir, "rules.json") {
		t.Errorf("unexpected rules path %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Matching.BufferSize != 100 {
		t.Errorf("expected defaults, got buffer size %d", cfg.Matching.BufferSize)
	}
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"config.toml": "[matching]\nbuffer_size = 42\n\n[rules]\nbackend = \"memory\"\n",
		"config.json": `{"matching": {"buffer_size": 42}, "rules": {"backend": "memory"}}`,
		"config.yaml": "matching:\n  buffer_size: 42\nrules:\n  backend: memory\n",
		"config.conf": "[matching]\nbuffer_size = 42\n[rules]\nbackend = \"memory\"\n",
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Matching.BufferSize != 42 {
				t.Errorf("expected buffer size 42, got %d", cfg.Matching.BufferSize)
			}
			if cfg.Rules.Backend != BackendMemory {
				t.Errorf("expected memory backend, got %s", cfg.Rules.Backend)
			}
			// Unset fields keep their defaults.
			if cfg.Replay.QueueSize != 16 {
				t.Errorf("expected default queue size, got %d", cfg.Replay.QueueSize)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[matching\nbuffer_size ="), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TEXTREPLACER_RULES_BACKEND", "sqlite")
	t.Setenv("TEXTREPLACER_RULES_PATH", "/tmp/rules.db")
	t.Setenv("TEXTREPLACER_LOG_LEVEL", "debug")
	t.Setenv("TEXTREPLACER_SOCKET_PATH", "/tmp/tr.sock")
	t.Setenv("TEXTREPLACER_AUTO_START", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Rules.Backend != BackendSQLite || cfg.Rules.Path != "/tmp/rules.db" {
		t.Errorf("rules override not applied: %+v", cfg.Rules)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/tr.sock" {
		t.Errorf("expected socket override, got %s", cfg.IPC.SocketPath)
	}
	if cfg.Monitor.AutoStart {
		t.Error("expected auto_start disabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"unknown backend", func(c *Config) { c.Rules.Backend = "redis" }, "rules.backend"},
		{"missing rules path", func(c *Config) { c.Rules.Path = "" }, "rules.path"},
		{"watch sqlite", func(c *Config) { c.Rules.Backend = BackendSQLite }, "rules.watch"},
		{"zero buffer", func(c *Config) { c.Matching.BufferSize = 0 }, "matching.buffer_size"},
		{"negative delay", func(c *Config) { c.Replay.BackspaceDelayMs = -1 }, "replay.backspace_delay_ms"},
		{"huge settle", func(c *Config) { c.Replay.ClipboardSettleMs = 5000 }, "replay.clipboard_settle_ms"},
		{"zero queue", func(c *Config) { c.Replay.QueueSize = 0 }, "replay.queue_size"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"bad permissions", func(c *Config) { c.IPC.Permissions = "777" }, "ipc.permissions"},
		{"zero timeout", func(c *Config) { c.IPC.TimeoutSec = 0 }, "ipc.timeout_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestMemoryBackendNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules.Backend = BackendMemory
	cfg.Rules.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIPCMode(t *testing.T) {
	if m := (IPCConfig{Permissions: "0660"}).Mode(); m != 0o660 {
		t.Errorf("expected 0660, got %o", m)
	}
	if m := (IPCConfig{Permissions: "bogus"}).Mode(); m != 0o600 {
		t.Errorf("expected fallback 0600, got %o", m)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Replay.KeystrokeDelayMs = 25
			cfg.Logging.LogReplacements = true

			path := filepath.Join(dir, name)
			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if *loaded != *cfg {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", loaded, cfg)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	if cfg.Matching.BufferSize != 100 {
		t.Errorf("unexpected buffer size %d", cfg.Matching.BufferSize)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second call should load the existing file")
	}
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[replay]\nkeystroke_delay_ms = 10\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path, nil)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan [2]*Config, 1)
	loader.OnChange(func(old, updated *Config) {
		select {
		case changed <- [2]*Config{old, updated}:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[replay]\nkeystroke_delay_ms = 30\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case pair := <-changed:
		old, cfg := pair[0], pair[1]
		if old.Replay.KeystrokeDelayMs != 10 {
			t.Errorf("old config should carry the previous delay, got %d", old.Replay.KeystrokeDelayMs)
		}
		if cfg.Replay.KeystrokeDelayMs != 30 {
			t.Errorf("expected 30, got %d", cfg.Replay.KeystrokeDelayMs)
		}
		if loader.Config().Replay.KeystrokeDelayMs != 30 {
			t.Error("loader did not store the reloaded config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[matching]\nbuffer_size = 50\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path, nil)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}
	defer loader.Close()

	if err := os.WriteFile(path, []byte("[matching]\nbuffer_size = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload error")
	}
	if loader.Config().Matching.BufferSize != 50 {
		t.Error("invalid reload must keep the previous config")
	}
}
