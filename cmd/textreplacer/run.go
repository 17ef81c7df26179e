package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"textreplacer/internal/app"
	"textreplacer/internal/config"
	"textreplacer/internal/logging"
)

func newRunCmd(c *cli) *cobra.Command {
	var noWatchConfig bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the text expansion daemon",
		Long: `Run installs the keyboard hook (when monitor.auto_start is set), loads the
rules and serves the control socket until interrupted.

If macOS has not granted Input Monitoring yet, the daemon keeps running;
grant it in System Settings and then run "textreplacer enable".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runDaemon(cmd, !noWatchConfig)
		},
	}
	cmd.Flags().BoolVar(&noWatchConfig, "no-watch-config", false, "do not reload the config file when it changes")
	cmd.Flags().BoolVar(&c.ephemeral, "ephemeral", false, "keep rules in memory only; nothing is written to disk")
	return cmd
}

func (c *cli) runDaemon(cmd *cobra.Command, watchConfig bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   Version,
		Component: "textreplacer",
		Logger:    logger.WithComponent("crash").Slog(),
	})
	defer crash.RecoverGoroutine("main")

	a, err := app.New(cfg, logger, app.WithVersion(Version), app.WithCrashHandler(crash))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := c.resolveConfigPath()
	if watchConfig {
		if _, err := os.Stat(path); err == nil {
			loader := c.watchConfig(path, logger, a)
			defer loader.Close()
		}
	}

	logger.Info("textreplacer starting", "version", Version, "commit", Commit, "config", path, "rules", a.Store().Path())
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}
	if cfg.Monitor.AutoStart && !a.Monitor().Enabled() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Keyboard hook is not running.", app.PermissionHint)
		fmt.Fprintln(cmd.ErrOrStderr(), "  open", app.PermissionURL)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return a.Shutdown()
}

// watchConfig hot-reloads the config file, keeping the flag overrides.
func (c *cli) watchConfig(path string, logger *logging.Logger, a *app.App) *config.Loader {
	loader := config.NewLoader(path, logger.WithComponent("config").Slog())
	loader.OnChange(func(old, updated *config.Config) {
		updated = updated.Clone()
		c.applyFlags(updated)
		a.ApplyConfig(a.Config(), updated)
	})
	if _, err := loader.Load(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
		return loader
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
		return loader
	}
	return loader
}
