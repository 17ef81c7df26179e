package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, level)
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "debug", LevelString(LevelDebug))
	assert.Equal(t, "info", LevelString(LevelInfo))
	assert.Equal(t, "warn", LevelString(LevelWarn))
	assert.Equal(t, "error", LevelString(LevelError))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, FormatText, cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.Equal(t, "textreplacer", cfg.Component)
	assert.False(t, cfg.LogReplacements)
	assert.NotEmpty(t, cfg.FilePath)
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key             string
		logReplacements bool
		want            bool
	}{
		{"replacement", false, true},
		{"replacement", true, false},
		{"Text", false, true},
		{"trigger", false, false},
		{"api_key", false, true},
		{"password", true, true},
		{"keycode", false, false},
		{"rules", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRedact(tt.key, tt.logReplacements))
		})
	}
}

func TestJSONFormatRedactsReplacement(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	l := NewWithWriter(&buf, cfg)

	l.Info("rule added", "trigger", ";sig", "replacement", "Best regards")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rule added", entry["msg"])
	assert.Equal(t, ";sig", entry["trigger"])
	assert.Equal(t, "[REDACTED]", entry["replacement"])
	assert.Equal(t, "textreplacer", entry["component"])
}

func TestLogReplacementsOptIn(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogReplacements = true
	l := NewWithWriter(&buf, cfg)

	l.Info("expanded", "replacement", "Best regards")
	assert.Contains(t, buf.String(), "Best regards")
}

func TestWithComponentSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, DefaultConfig())
	child := l.WithComponent("monitor")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	l.SetLevel(LevelDebug)
	child.Debug("visible")
	assert.Contains(t, buf.String(), "component=monitor")
	assert.Contains(t, buf.String(), "visible")
	assert.Equal(t, LevelDebug, child.GetLevel())
}

func TestLoggerFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "textreplacer.log")

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("started")
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "started")
}

func TestFileRotatorRotatesOnSize(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	cfg := &Config{
		FilePath:   logPath,
		MaxSize:    1,
		MaxBackups: 2,
	}

	r, err := NewFileRotator(cfg)
	require.NoError(t, err)

	line := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 2; i++ {
		n, err := r.Write(line)
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
	require.NoError(t, r.Close())

	backups, err := r.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(line)), info.Size())
}

func TestFileRotatorRotatesOnNewDay(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(&Config{FilePath: logPath, MaxBackups: 5})
	require.NoError(t, err)

	_, err = r.Write([]byte("day one\n"))
	require.NoError(t, err)

	tomorrow := time.Now().Add(24 * time.Hour)
	r.now = func() time.Time { return tomorrow }
	_, err = r.Write([]byte("day two\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	backups, err := r.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "day two\n", string(data))
}

func TestCrashHandlerRecover(t *testing.T) {
	dir := t.TempDir()
	var got []CrashReport
	var buf bytes.Buffer
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "1.0.0",
		Component: "monitor",
		Logger:    NewWithWriter(&buf, DefaultConfig()).Slog(),
		OnCrash:   func(r CrashReport) { got = append(got, r) },
	})

	panicked := h.Recover(func() { panic(errors.New("boom")) })
	assert.True(t, panicked)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].PanicValue)
	assert.Equal(t, "monitor", got[0].Component)
	assert.Contains(t, buf.String(), "recovered panic")

	reports, err := h.CrashReports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "1.0.0", reports[0].Version)

	assert.False(t, h.Recover(func() {}))
}

func TestCrashHandlerRecoverGoroutine(t *testing.T) {
	done := make(chan CrashReport, 1)
	h := NewCrashHandler(&CrashHandlerConfig{
		OnCrash: func(r CrashReport) { done <- r },
	})

	go func() {
		defer h.RecoverGoroutine("replay")
		panic("worker failed")
	}()

	select {
	case r := <-done:
		assert.Equal(t, "worker failed", r.PanicValue)
		assert.Equal(t, "replay", r.Context["goroutine"])
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not recovered")
	}
}
