package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"textreplacer/internal/config"
	"textreplacer/internal/health"
	"textreplacer/internal/ipc"
	"textreplacer/internal/replay"
)

// Replaced in tests.
var (
	newPoster    = replay.NewPoster
	newClipboard = replay.NewClipboard
)

func newDoctorCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check permissions, rule storage and the daemon",
		Long: `doctor asks the running daemon for its component checks. Without a
daemon it runs the same checks locally.

Exits non-zero when a critical component is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			report, err := c.daemonHealth(cmd.Context(), cfg)
			if errors.Is(err, ipc.ErrDaemonNotRunning) {
				report = localHealth(cmd.Context(), cfg)
			} else if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if err := printHealth(cmd.OutOrStdout(), report); err != nil {
				return err
			}

			if report.Status == string(health.StatusUnhealthy) {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (c *cli) daemonHealth(ctx context.Context, cfg *config.Config) (*ipc.HealthResponse, error) {
	client, err := c.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Health()
}

// localHealth runs the daemon's checks in this process.
func localHealth(ctx context.Context, cfg *config.Config) *ipc.HealthResponse {
	checker := health.NewChecker()

	checker.RegisterFunc("keyboard-hook", true, health.HookCheck(newSource(), nil))
	checker.RegisterFunc("rule-storage", true, health.StorageCheck(cfg.Rules.Backend, cfg.Rules.Path))

	_, err := newPoster()
	checker.RegisterFunc("synthetic-input", true, health.PosterCheck(err))

	clip, err := newClipboard()
	if err != nil {
		clip = nil
	}
	checker.RegisterFunc("clipboard", false, health.ClipboardCheck(clip))

	checker.RegisterFunc("control-socket", false, func(context.Context) health.Result {
		return health.Degraded("daemon not running")
	})

	report := checker.Report(ctx)
	resp := &ipc.HealthResponse{Status: string(report.Status)}
	for _, name := range checker.Names() {
		r := report.Components[name]
		resp.Components = append(resp.Components, ipc.ComponentHealth{
			Name:     name,
			Critical: checker.Critical(name),
			Status:   string(r.Status),
			Message:  r.Message,
			Error:    r.Error,
		})
	}
	return resp
}

func printHealth(w io.Writer, h *ipc.HealthResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tSTATUS\tDETAIL")
	for _, comp := range h.Components {
		name := comp.Name
		if comp.Critical {
			name += " *"
		}
		detail := comp.Message
		if comp.Error != "" {
			detail += ": " + comp.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, comp.Status, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if h.Uptime > 0 {
		fmt.Fprintf(w, "\nOverall: %s (daemon up %s)\n", h.Status, h.Uptime.Round(time.Second))
	} else {
		fmt.Fprintf(w, "\nOverall: %s\n", h.Status)
	}
	return nil
}

func newMetricsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the daemon's counters in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.dialDaemon(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			text, err := client.Metrics()
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
}
