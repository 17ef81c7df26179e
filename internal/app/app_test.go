package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textreplacer/internal/config"
	"textreplacer/internal/health"
	"textreplacer/internal/ipc"
	"textreplacer/internal/keystroke"
	"textreplacer/internal/logging"
	"textreplacer/internal/monitor"
	"textreplacer/internal/replay"
	"textreplacer/internal/rules"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

type fixture struct {
	app    *App
	src    *keystroke.SimulatedSource
	poster *replay.RecordingPoster
	clip   *replay.MemoryClipboard
	logs   *syncBuffer
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Rules.Backend = config.BackendMemory
	cfg.Rules.Path = ""
	cfg.Rules.Watch = false
	cfg.Replay.BackspaceDelayMs = 0
	cfg.Replay.KeystrokeDelayMs = 0
	cfg.Replay.ClipboardSettleMs = 0
	cfg.Logging.Output = "stderr"
	cfg.IPC.Enabled = false
	return cfg
}

// shortSocketPath keeps the path under the sun_path limit on macOS.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "trapp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func newFixture(t *testing.T, cfg *config.Config, ruleSet map[string]string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		src:    keystroke.NewSimulated(keystroke.Options{}),
		poster: &replay.RecordingPoster{},
		clip:   replay.NewMemoryClipboard(""),
		logs:   &syncBuffer{},
	}
	logger := logging.NewWithWriter(f.logs, &logging.Config{Level: logging.LevelDebug})

	base := []Option{
		WithVersion("test"),
		WithSource(f.src),
		WithPoster(f.poster),
		WithClipboard(f.clip),
		WithCrashHandler(logging.NewCrashHandler(&logging.CrashHandlerConfig{Logger: logger.Slog()})),
	}
	if ruleSet != nil {
		base = append(base, WithBackend(rules.NewMemoryBackend(ruleSet)))
	}

	a, err := New(cfg, logger, append(base, opts...)...)
	require.NoError(t, err)
	f.app = a
	t.Cleanup(func() { _ = a.Shutdown() })
	return f
}

func TestExpansionEndToEnd(t *testing.T) {
	f := newFixture(t, testConfig(), map[string]string{";wka": "hello"})
	require.NoError(t, f.app.Start(context.Background()))
	assert.Equal(t, monitor.StateRunning, f.app.Monitor().State())

	d := f.src.Type("x;wka")
	require.Len(t, d, 5)
	assert.Equal(t, keystroke.Suppress, d[4])
	for _, pass := range d[:4] {
		assert.Equal(t, keystroke.PassThrough, pass)
	}
	assert.Empty(t, f.app.Monitor().Buffer())

	want := []uint16{
		keystroke.KeyBackspace, keystroke.KeyBackspace, keystroke.KeyBackspace,
		4, 14, 37, 37, 31,
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, f.poster.Downs())
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return f.app.Metrics().ReplaysTotal.Value() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), f.app.Metrics().MatchesTotal.Value())
	assert.Equal(t, uint64(5), f.app.Metrics().KeystrokesTotal.Value())
}

func TestSeedsDefaultRuleWhenStorageMissing(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	v, ok := f.app.Store().Lookup(rules.DefaultTrigger)
	require.True(t, ok)
	assert.Equal(t, rules.DefaultReplacement, v)
}

func TestAutoStartOff(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.AutoStart = false
	f := newFixture(t, cfg, map[string]string{"ab": "x"})
	require.NoError(t, f.app.Start(context.Background()))

	assert.Equal(t, monitor.StateStopped, f.app.Monitor().State())
	assert.False(t, f.src.IsRunning())

	require.NoError(t, f.app.EnableMonitor(context.Background()))
	assert.True(t, f.src.IsRunning())
}

func TestUnavailableHookKeepsServing(t *testing.T) {
	cfg := testConfig()
	cfg.IPC.Enabled = true
	cfg.IPC.SocketPath = shortSocketPath(t)
	f := newFixture(t, cfg, map[string]string{"ab": "x"})
	f.src.SetAvailable(false)

	require.NoError(t, f.app.Start(context.Background()))
	assert.Equal(t, monitor.StateStopped, f.app.Monitor().State())
	assert.Contains(t, f.logs.String(), "keyboard hook not started")

	c, err := ipc.Dial(context.Background(), ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	require.NoError(t, err)
	defer c.Close()

	st, err := c.Status()
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.False(t, st.HookAvailable)
	assert.Equal(t, 1, st.Rules)
	assert.Equal(t, "test", st.Version)

	f.src.SetAvailable(true)
	state, err := c.Enable()
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Empty(t, state.Error)
	assert.Equal(t, monitor.StateRunning, f.app.Monitor().State())
}

func TestRuleAddedOverSocketExpands(t *testing.T) {
	cfg := testConfig()
	cfg.IPC.Enabled = true
	cfg.IPC.SocketPath = shortSocketPath(t)
	f := newFixture(t, cfg, map[string]string{})
	require.NoError(t, f.app.Start(context.Background()))
	assert.Equal(t, cfg.IPC.SocketPath, f.app.SocketPath())

	c, err := ipc.Dial(context.Background(), ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.AddRule(";ty", "thanks")
	require.NoError(t, err)

	d := f.src.Type(";ty")
	assert.Equal(t, keystroke.Suppress, d[len(d)-1])
	assert.Eventually(t, func() bool {
		return f.app.Metrics().ReplaysTotal.Value() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplyConfig(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, map[string]string{"abc": "x"})
	require.NoError(t, f.app.Start(context.Background()))

	updated := cfg.Clone()
	updated.Logging.Level = "error"
	updated.Replay.KeystrokeDelayMs = 25
	updated.Replay.ClipboardFallback = false
	updated.Matching.ResetOnSpace = false
	f.app.ApplyConfig(cfg, updated)

	timings := f.app.Replayer().Timings()
	assert.Equal(t, 25*time.Millisecond, timings.KeystrokeDelay)
	assert.False(t, timings.ClipboardFallback)
	assert.Equal(t, "error", f.app.Config().Logging.Level)

	f.src.Type("a b")
	assert.Equal(t, "a b", f.app.Monitor().Buffer())

	before := len(f.logs.String())
	f.app.Logger().Info("should be filtered")
	assert.Equal(t, before, len(f.logs.String()))
}

func TestApplyConfigWarnsOnRestartSettings(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg, map[string]string{})

	updated := cfg.Clone()
	updated.Replay.QueueSize = 64
	f.app.ApplyConfig(cfg, updated)
	assert.Contains(t, f.logs.String(), "take effect after restart")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, testConfig(), map[string]string{"ab": "x"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	assert.Eventually(t, f.src.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, f.src.IsRunning())
	assert.Equal(t, monitor.StateStopped, f.app.Monitor().State())
}

func TestShutdownIdempotent(t *testing.T) {
	f := newFixture(t, testConfig(), map[string]string{})
	require.NoError(t, f.app.Start(context.Background()))
	require.NoError(t, f.app.Shutdown())
	require.NoError(t, f.app.Shutdown())
	assert.Error(t, f.app.Start(context.Background()))
}

func TestShutdownDrainsReplays(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.KeystrokeDelayMs = 2
	f := newFixture(t, cfg, map[string]string{"ab": "xyz"})
	require.NoError(t, f.app.Start(context.Background()))

	f.src.Type("ab")
	f.src.Type("ab")
	require.NoError(t, f.app.Shutdown())
	assert.Equal(t, uint64(2), f.app.Metrics().ReplaysTotal.Value())
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Matching.BufferSize = 0
	_, err := New(cfg, logging.NewWithWriter(&syncBuffer{}, nil))
	var verrs config.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestJSONRulesWatched(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.Backend = config.BackendJSON
	cfg.Rules.Path = filepath.Join(t.TempDir(), "rules.json")
	cfg.Rules.Watch = true
	f := newFixture(t, cfg, nil)
	require.NoError(t, f.app.Start(context.Background()))

	_, err := os.Stat(cfg.Rules.Path)
	require.NoError(t, err, "default rule should be persisted")

	require.NoError(t, os.WriteFile(cfg.Rules.Path, []byte(`{"brb": "be right back"}`), 0o600))
	assert.Eventually(t, func() bool {
		v, ok := f.app.Store().Lookup("brb")
		return ok && v == "be right back"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnavailablePosterFailsReplays(t *testing.T) {
	p := unavailablePoster{err: replay.ErrNotSupported}
	r := replay.New(p, nil, replay.Options{Sleep: func(time.Duration) {}})
	err := r.Replay(context.Background(), 2, "x")
	assert.ErrorIs(t, err, replay.ErrNotSupported)
}

func TestLoggerConfig(t *testing.T) {
	lc, err := LoggerConfig(config.LoggingConfig{
		Level:           "debug",
		Format:          "json",
		Output:          "stdout",
		MaxSizeMB:       5,
		MaxBackups:      2,
		MaxAgeDays:      7,
		LogReplacements: true,
	})
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "stdout", lc.Output)
	assert.Equal(t, int64(5), lc.MaxSize)
	assert.True(t, lc.LogReplacements)

	_, err = LoggerConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestHealthReport(t *testing.T) {
	cfg := testConfig()
	cfg.IPC.Enabled = true
	cfg.IPC.SocketPath = shortSocketPath(t)
	f := newFixture(t, cfg, map[string]string{"ab": "x"})
	require.NoError(t, f.app.Start(context.Background()))

	report := f.app.Health(context.Background())
	assert.Equal(t, health.StatusDegraded, report.Status, "memory storage degrades")
	assert.Equal(t, health.StatusHealthy, report.Components["keyboard-hook"].Status)
	assert.Equal(t, health.StatusHealthy, report.Components["synthetic-input"].Status)
	assert.Equal(t, health.StatusHealthy, report.Components["clipboard"].Status)
	assert.Equal(t, health.StatusHealthy, report.Components["control-socket"].Status)
	assert.Equal(t, health.StatusDegraded, report.Components["rule-storage"].Status)

	require.NoError(t, f.app.Monitor().Stop())
	f.src.SetAvailable(false)
	report = f.app.Health(context.Background())
	assert.Equal(t, health.StatusUnhealthy, report.Status)
}
