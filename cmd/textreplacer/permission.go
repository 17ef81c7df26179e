package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"textreplacer/internal/app"
	"textreplacer/internal/keystroke"
)

// newSource is replaced in tests.
var newSource = func() keystroke.Source {
	return keystroke.New(keystroke.Options{})
}

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Check or request the macOS keyboard permissions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether the keyboard hook can be installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ok, reason := newSource().Available()
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Keyboard hook available:", reason)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Keyboard hook unavailable:", reason)
			return errors.New("permission not granted")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "request",
		Short: "Ask macOS for Input Monitoring and Accessibility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if newSource().RequestPermission() {
				fmt.Fprintln(out, "Permissions granted")
				return nil
			}
			fmt.Fprintln(out, app.PermissionHint)
			fmt.Fprintln(out, "  open", app.PermissionURL)
			return nil
		},
	})
	return cmd
}
