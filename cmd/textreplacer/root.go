package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"textreplacer/internal/config"
	"textreplacer/internal/ipc"
	"textreplacer/internal/logging"
)

// cli holds the global flags shared by every command.
type cli struct {
	configPath string
	logLevel   string
	socketPath string

	// ephemeral is set by run --ephemeral.
	ephemeral bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "textreplacer",
		Short: "System-wide text expansion",
		Long: `textreplacer watches what you type and replaces trigger sequences with
longer text, the way the OS text-replacement feature does.

Quick start:
  textreplacer rules add ";sig" "Best regards"   Add a rule
  textreplacer run                              Start expanding
  textreplacer status                           Check the daemon

Rules live in a JSON file you can also edit by hand; the daemon reloads
it when it changes.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default: config.toml in the data directory)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&c.socketPath, "socket", "", "control socket path")

	root.AddCommand(
		newRunCmd(c),
		newRulesCmd(c),
		newEnableCmd(c),
		newDisableCmd(c),
		newStatusCmd(c),
		newDoctorCmd(c),
		newMetricsCmd(c),
		newPermissionCmd(),
		newConfigCmd(c),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath picks --config, then TEXTREPLACER_CONFIG, then a config
// file found on disk, then the default location.
func (c *cli) resolveConfigPath() string {
	if c.configPath != "" {
		return c.configPath
	}
	if p := os.Getenv("TEXTREPLACER_CONFIG"); p != "" {
		return p
	}
	if p := config.FindConfigFile(); p != "" {
		return p
	}
	return config.ConfigPath()
}

// loadConfig loads and validates the configuration with flag overrides applied.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *cli) applyFlags(cfg *config.Config) {
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.socketPath != "" {
		cfg.IPC.SocketPath = c.socketPath
	}
	if c.ephemeral {
		cfg.Rules.Backend = config.BackendMemory
		cfg.Rules.Watch = false
	}
}

// cliLogger logs to the command's stderr at warn level unless --log-level
// says otherwise.
func (c *cli) cliLogger(cmd *cobra.Command) *logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.LevelWarn
	if c.logLevel != "" {
		if lvl, err := logging.ParseLevel(c.logLevel); err == nil {
			lc.Level = lvl
		}
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), lc)
}

// dial connects to the running daemon.
func (c *cli) dial(ctx context.Context, cfg *config.Config) (*ipc.Client, error) {
	ccfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	ccfg.ClientName = "textreplacer-cli"
	ccfg.ClientVersion = Version
	ccfg.RequestTimeout = cfg.IPC.Timeout()
	return ipc.Dial(ctx, ccfg)
}

// dialDaemon is dial for commands that only make sense with a daemon.
func (c *cli) dialDaemon(cmd *cobra.Command) (*ipc.Client, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := c.dial(cmd.Context(), cfg)
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, fmt.Errorf("%w (start it with: textreplacer run)", err)
	}
	return client, err
}
