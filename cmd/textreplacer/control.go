package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"textreplacer/internal/app"
	"textreplacer/internal/ipc"
)

func newEnableCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Start expanding in the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dialDaemon(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.Enable()
			if err != nil {
				return err
			}
			if state.Error != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), app.PermissionHint)
				return fmt.Errorf("enable: %s", state.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Expansion enabled")
			return nil
		},
	}
}

func newDisableCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Stop expanding; the daemon keeps running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dialDaemon(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.Disable()
			if err != nil {
				return err
			}
			if state.Error != "" {
				return fmt.Errorf("disable: %s", state.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Expansion disabled")
			return nil
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dialDaemon(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Status()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func printStatus(w io.Writer, st *ipc.StatusResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	state := "disabled"
	if st.Enabled {
		state = "enabled"
	}
	hook := "available"
	if !st.HookAvailable {
		hook = "unavailable: " + st.HookReason
	}

	fmt.Fprintf(tw, "Version\t%s\n", st.Version)
	fmt.Fprintf(tw, "Uptime\t%s\n", st.Uptime.Round(time.Second))
	fmt.Fprintf(tw, "Expansion\t%s\n", state)
	fmt.Fprintf(tw, "Keyboard hook\t%s\n", hook)
	fmt.Fprintf(tw, "Rules\t%d (%s)\n", st.Rules, st.RulesPath)
	fmt.Fprintf(tw, "Keystrokes\t%d\n", st.Keystrokes)
	fmt.Fprintf(tw, "Matches\t%d\n", st.Matches)
	fmt.Fprintf(tw, "Replays\t%d\n", st.Replays)
	fmt.Fprintf(tw, "Replay errors\t%d\n", st.ReplayErrors)
	fmt.Fprintf(tw, "Clipboard pastes\t%d\n", st.ClipboardFallbacks)
	fmt.Fprintf(tw, "Tap disables\t%d\n", st.TapDisables)
	return tw.Flush()
}
