package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"textreplacer/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show or validate the configuration",
	}
	cmd.AddCommand(newConfigInitCmd(c), newConfigShowCmd(c), newConfigValidateCmd(c))
	return cmd
}

func newConfigInitCmd(c *cli) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Long: `Init writes the default configuration to --config (or the default
location). The format follows the extension: .toml, .json, .yaml or .yml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.configPath
			if path == "" {
				path = config.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.DefaultConfig()
			c.applyFlags(cfg)
			if err := config.SaveConfig(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Show prints the configuration after defaults, environment overrides and
flags are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.resolveConfigPath())
			if err != nil {
				return err
			}
			c.applyFlags(cfg)
			ext := "." + format
			if format == "" {
				ext = filepath.Ext(c.resolveConfigPath())
			}
			data, err := config.Encode(cfg, ext)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format (toml, json, yaml)")
	return cmd
}

func newConfigValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			c.applyFlags(cfg)
			if err := cfg.Validate(); err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					for _, e := range verrs {
						fmt.Fprintln(cmd.ErrOrStderr(), " -", e.Error())
					}
				}
				return fmt.Errorf("%s is invalid", path)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path, "is valid")
			return nil
		},
	}
}
