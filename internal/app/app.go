// Package app wires the textreplacer daemon together: rule store, keyboard
// hook, input monitor, replay queue and control socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"textreplacer/internal/config"
	"textreplacer/internal/health"
	"textreplacer/internal/ipc"
	"textreplacer/internal/keystroke"
	"textreplacer/internal/logging"
	"textreplacer/internal/metrics"
	"textreplacer/internal/monitor"
	"textreplacer/internal/replay"
	"textreplacer/internal/rules"
)

// PermissionHint tells the user where macOS grants the hook its permissions.
const PermissionHint = "Grant Input Monitoring and Accessibility to textreplacer in " +
	"System Settings > Privacy & Security, then run `textreplacer enable`."

// PermissionURL opens the Input Monitoring pane of System Settings.
const PermissionURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_ListenEvent"

// App owns one of each component.
type App struct {
	cfgMu   sync.RWMutex
	cfg     *config.Config
	logger  *logging.Logger
	version string

	crash   *logging.CrashHandler
	metrics *metrics.Metrics

	backend rules.Backend
	store   *rules.Store
	watcher *rules.Watcher

	source    keystroke.Source
	posterErr error
	clipboard replay.ClipboardAccessor
	replayer  *replay.Replayer
	queue     *replay.Queue
	monitor   *monitor.Monitor

	health  *health.Checker
	handler *ipc.DaemonHandler
	server  *ipc.Server

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// Option customises New. Tests use them to swap OS-backed pieces for fakes.
type Option func(*options)

type options struct {
	version   string
	source    keystroke.Source
	poster    replay.Poster
	clipboard replay.ClipboardAccessor
	noClip    bool
	backend   rules.Backend
	crash     *logging.CrashHandler
	registry  *metrics.Registry
}

// WithVersion sets the version reported over the control socket.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithSource replaces the platform keyboard hook.
func WithSource(s keystroke.Source) Option {
	return func(o *options) { o.source = s }
}

// WithPoster replaces the platform event poster.
func WithPoster(p replay.Poster) Option {
	return func(o *options) { o.poster = p }
}

// WithClipboard replaces the platform clipboard. A nil clipboard disables
// the paste fallback.
func WithClipboard(c replay.ClipboardAccessor) Option {
	return func(o *options) {
		o.clipboard = c
		o.noClip = c == nil
	}
}

// WithBackend replaces the configured rule backend.
func WithBackend(b rules.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithCrashHandler replaces the default crash handler.
func WithCrashHandler(h *logging.CrashHandler) Option {
	return func(o *options) { o.crash = h }
}

// WithRegistry registers metrics on r instead of a private registry.
func WithRegistry(r *metrics.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New builds the daemon from cfg. Nothing is started; the rule store is
// loaded so the socket can serve rules before the hook runs.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}

	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:     cfg.Clone(),
		logger:  logger,
		version: o.version,
		metrics: metrics.New(o.registry),
	}

	a.crash = o.crash
	if a.crash == nil {
		a.crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{
			CrashDir:  logging.DefaultCrashDir(),
			Version:   o.version,
			Component: "textreplacer",
			Logger:    logger.WithComponent("crash").Slog(),
		})
	}

	if err := a.initRules(o.backend); err != nil {
		return nil, err
	}
	a.initPipeline(o)
	a.initControl()
	return a, nil
}

func (a *App) initRules(backend rules.Backend) error {
	if backend == nil {
		b, err := rules.Open(a.cfg.Rules.Backend, a.cfg.Rules.Path)
		if err != nil {
			return fmt.Errorf("open rules: %w", err)
		}
		backend = b
	}
	a.backend = backend

	a.store = rules.NewStore(backend, rules.Options{
		Logger:      a.logger.WithComponent("rules").Slog(),
		Metrics:     a.metrics,
		DisableSeed: !a.cfg.Rules.Seed,
	})
	a.store.Load()

	if jb, ok := backend.(*rules.JSONBackend); ok && a.cfg.Rules.Watch {
		a.watcher = rules.NewWatcher(a.store, jb, a.logger.WithComponent("rules-watch").Slog())
	}
	return nil
}

func (a *App) initPipeline(o options) {
	a.source = o.source
	if a.source == nil {
		a.source = keystroke.New(keystroke.Options{
			Logger: a.logger.WithComponent("keystroke").Slog(),
			Crash:  a.crash,
		})
	}

	poster := o.poster
	if poster == nil {
		p, err := replay.NewPoster()
		if err != nil {
			a.logger.Warn("synthetic input unavailable, replacements will not be typed", "error", err)
			a.posterErr = err
			p = unavailablePoster{err: err}
		}
		poster = p
	}

	clipboard := o.clipboard
	if clipboard == nil && !o.noClip {
		c, err := replay.NewClipboard()
		if err != nil {
			a.logger.Warn("clipboard unavailable, unmappable characters will be skipped", "error", err)
		} else {
			clipboard = c
		}
	}

	a.clipboard = clipboard

	replayLog := a.logger.WithComponent("replay").Slog()
	a.replayer = replay.New(poster, clipboard, replay.Options{
		Timings: timingsFrom(a.cfg.Replay),
		Logger:  replayLog,
		Metrics: a.metrics,
	})
	a.queue = replay.NewQueue(a.replayer, replay.QueueOptions{
		Size:    a.cfg.Replay.QueueSize,
		Logger:  replayLog,
		Metrics: a.metrics,
		Crash:   a.crash,
	})

	mopts := monitorOptions(a.cfg.Matching)
	mopts.Logger = a.logger.WithComponent("monitor").Slog()
	mopts.Metrics = a.metrics
	a.monitor = monitor.New(a.source, a.store, a.queue, mopts)
}

func (a *App) initHealth() {
	a.health = health.NewChecker()

	kind := a.cfg.Rules.Backend
	if _, ok := a.backend.(*rules.MemoryBackend); ok {
		kind = config.BackendMemory
	}
	a.health.RegisterFunc("keyboard-hook", true, health.HookCheck(a.source, a.monitor.Enabled))
	a.health.RegisterFunc("rule-storage", true, health.StorageCheck(kind, a.backend.Path()))
	a.health.RegisterFunc("synthetic-input", true, health.PosterCheck(a.posterErr))
	a.health.RegisterFunc("clipboard", false, health.ClipboardCheck(a.clipboard))
	a.health.RegisterFunc("replay", false, func(context.Context) health.Result {
		failed := a.metrics.ReplayErrorsTotal.Value()
		r := health.Healthy("replays succeeding")
		if failed > 0 {
			r = health.Degraded("some replays failed")
		}
		r.Details = map[string]any{
			"replays": a.metrics.ReplaysTotal.Value(),
			"errors":  failed,
			"queued":  a.queue.Len(),
		}
		return r
	})
	if a.cfg.IPC.Enabled {
		path := a.cfg.IPC.SocketPath
		a.health.RegisterFunc("control-socket", false, func(context.Context) health.Result {
			if !ipc.IsSocketListening(path) {
				return health.Unhealthy("control socket not listening", nil)
			}
			return health.Healthy("listening on " + path)
		})
	}
}

func (a *App) initControl() {
	a.initHealth()
	a.handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:    a.version,
		Store:      a.store,
		Controller: controller{a},
		Hook:       a.source,
		Metrics:    a.metrics,
		Health:     a.health,
		Logger:     a.logger.WithComponent("ipc").Slog(),
	})
	if !a.cfg.IPC.Enabled {
		return
	}

	scfg := ipc.DefaultServerConfig(a.cfg.IPC.SocketPath)
	scfg.Version = a.version
	scfg.Permissions = a.cfg.IPC.Mode()
	scfg.WriteTimeout = a.cfg.IPC.Timeout()
	scfg.Logger = a.logger.WithComponent("ipc").Slog()
	a.server = ipc.NewServer(scfg, a.handler)
}

// Start launches the control socket and rule watcher and, when
// monitor.auto_start is set, the keyboard hook. A hook that cannot be
// installed is logged and left stopped; the socket keeps serving so the
// user can enable it after granting permission.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return errors.New("app: already shut down")
	}
	if a.started {
		return nil
	}

	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("start control socket: %w", err)
		}
		a.logger.Info("control socket listening", "path", a.server.SocketPath())
	}

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			a.logger.Warn("rule file watcher disabled", "error", err)
			a.watcher = nil
		}
	}

	a.started = true

	if a.Config().Monitor.AutoStart {
		if err := a.EnableMonitor(ctx); err != nil {
			a.logger.Warn("keyboard hook not started", "error", err)
		}
	}
	return nil
}

// EnableMonitor starts expansion, asking the OS for permission first when
// monitor.prompt_permission is set.
func (a *App) EnableMonitor(ctx context.Context) error {
	if ok, reason := a.source.Available(); !ok && a.Config().Monitor.PromptPermission {
		a.logger.Info("requesting keyboard permissions", "reason", reason)
		a.source.RequestPermission()
	}

	err := a.monitor.Start(ctx)
	if errors.Is(err, keystroke.ErrPermissionDenied) {
		a.logger.Warn(PermissionHint, "settings", PermissionURL)
	}
	return err
}

// Run starts the app and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Shutdown()
		return err
	}
	<-ctx.Done()
	a.logger.Info("shutting down")
	return a.Shutdown()
}

// Shutdown stops the hook, drains pending replays and closes storage.
// It is safe to call more than once.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	var errs []error
	if err := a.monitor.Stop(); err != nil {
		errs = append(errs, err)
	}
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop control socket: %w", err))
		}
	}
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop rule watcher: %w", err))
		}
	}
	a.queue.Close(true)
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rules: %w", err))
	}
	return errors.Join(errs...)
}

// ApplyConfig applies the settings that can change while running: log
// level, replay timings and matching options. Storage, socket and hook
// settings need a restart, which is logged.
func (a *App) ApplyConfig(old, updated *config.Config) {
	if old == nil {
		old = a.Config()
	}

	if lvl, err := logging.ParseLevel(updated.Logging.Level); err == nil {
		a.logger.SetLevel(lvl)
	} else {
		a.logger.Warn("ignoring log level", "level", updated.Logging.Level, "error", err)
	}

	a.replayer.SetTimings(timingsFrom(updated.Replay))

	mopts := monitorOptions(updated.Matching)
	mopts.Logger = a.logger.WithComponent("monitor").Slog()
	mopts.Metrics = a.metrics
	a.monitor.SetOptions(mopts)

	if old.Rules != updated.Rules || old.IPC != updated.IPC || old.Replay.QueueSize != updated.Replay.QueueSize {
		a.logger.Warn("rules, ipc and queue size changes take effect after restart")
	}

	a.cfgMu.Lock()
	a.cfg = updated.Clone()
	a.cfgMu.Unlock()
	a.logger.Info("configuration applied", "log_level", logging.LevelString(a.logger.GetLevel()))
}

// Config returns the configuration in effect.
func (a *App) Config() *config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.Clone()
}

// Store returns the rule store.
func (a *App) Store() *rules.Store { return a.store }

// Monitor returns the input monitor.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Source returns the keyboard hook.
func (a *App) Source() keystroke.Source { return a.source }

// Replayer returns the replayer.
func (a *App) Replayer() *replay.Replayer { return a.replayer }

// Metrics returns the pipeline counters.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Health runs the component checks.
func (a *App) Health(ctx context.Context) health.Report { return a.health.Report(ctx) }

// Status returns the same status the control socket reports.
func (a *App) Status() *ipc.StatusResponse { return a.handler.Status() }

// SocketPath returns the control socket path, or "" when IPC is disabled.
func (a *App) SocketPath() string {
	if a.server == nil {
		return ""
	}
	return a.server.SocketPath()
}

// Logger returns the slog logger.
func (a *App) Logger() *slog.Logger { return a.logger.Slog() }

func timingsFrom(r config.ReplayConfig) replay.Timings {
	return replay.Timings{
		BackspaceDelay:    r.BackspaceDelay(),
		KeystrokeDelay:    r.KeystrokeDelay(),
		ClipboardSettle:   r.ClipboardSettle(),
		ClipboardFallback: r.ClipboardFallback,
	}
}

func monitorOptions(m config.MatchingConfig) monitor.Options {
	return monitor.Options{
		BufferSize:   m.BufferSize,
		ResetOnSpace: m.ResetOnSpace,
		ResetOnChord: m.ResetOnChord,
	}
}

// controller lets the control socket enable expansion the same way Start does.
type controller struct {
	a *App
}

func (c controller) Start(ctx context.Context) error { return c.a.EnableMonitor(ctx) }
func (c controller) Stop() error                     { return c.a.monitor.Stop() }
func (c controller) Enabled() bool                   { return c.a.monitor.Enabled() }

// unavailablePoster fails every post so replays surface the reason in logs
// and replay_errors_total.
type unavailablePoster struct {
	err error
}

func (p unavailablePoster) PostKey(uint16, bool, keystroke.Modifiers) error {
	return p.err
}
