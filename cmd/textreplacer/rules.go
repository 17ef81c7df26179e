package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"textreplacer/internal/config"
	"textreplacer/internal/ipc"
	"textreplacer/internal/rules"
)

// ruleSet is the rule API the commands need. It is served by the daemon
// when one is running, otherwise by the rule backend directly.
type ruleSet interface {
	List() ([]rules.Rule, string, error)
	Add(trigger, replacement string) error
	Remove(trigger string) (bool, error)
	Clear() (int, error)
	Import(rules map[string]string) (int, error)
	Close() error
}

type daemonRules struct {
	client *ipc.Client
}

func (d daemonRules) List() ([]rules.Rule, string, error) {
	resp, err := d.client.ListRules()
	if err != nil {
		return nil, "", err
	}
	out := make([]rules.Rule, 0, len(resp.Rules))
	for _, r := range resp.Rules {
		out = append(out, rules.Rule{Trigger: r.Trigger, Replacement: r.Replacement})
	}
	return out, resp.Path, nil
}

func (d daemonRules) Add(trigger, replacement string) error {
	_, err := d.client.AddRule(trigger, replacement)
	return err
}

func (d daemonRules) Remove(trigger string) (bool, error) {
	_, err := d.client.RemoveRule(trigger)
	var remote *ipc.RemoteError
	if errors.As(err, &remote) && remote.Code == ipc.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (d daemonRules) Clear() (int, error) {
	resp, err := d.client.ClearRules()
	if err != nil {
		return 0, err
	}
	return resp.Changed, nil
}

func (d daemonRules) Import(set map[string]string) (int, error) {
	resp, err := d.client.ImportRules(set)
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return resp.Changed, errors.New(resp.Error)
	}
	return resp.Changed, nil
}

func (d daemonRules) Close() error { return d.client.Close() }

type localRules struct {
	store *rules.Store
}

func (l localRules) List() ([]rules.Rule, string, error) {
	return l.store.Sorted(), l.store.Path(), nil
}

func (l localRules) Add(trigger, replacement string) error {
	return l.store.Add(trigger, replacement)
}

func (l localRules) Remove(trigger string) (bool, error) {
	return l.store.Remove(trigger), nil
}

func (l localRules) Clear() (int, error) {
	n := l.store.Len()
	l.store.Clear()
	return n, nil
}

func (l localRules) Import(set map[string]string) (int, error) {
	return l.store.Merge(set)
}

func (l localRules) Close() error { return l.store.Close() }

// openRules returns the daemon's rules if it is running, else the backend's.
func (c *cli) openRules(cmd *cobra.Command) (ruleSet, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := c.dial(cmd.Context(), cfg)
	if err == nil {
		return daemonRules{client: client}, nil
	}
	if !errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, err
	}

	if cfg.Rules.Backend == config.BackendMemory {
		return nil, errors.New("memory backend rules only exist inside a running daemon")
	}
	backend, err := rules.Open(cfg.Rules.Backend, cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	store := rules.NewStore(backend, rules.Options{
		Logger:      c.cliLogger(cmd).WithComponent("rules").Slog(),
		DisableSeed: !cfg.Rules.Seed,
	})
	store.Load()
	return localRules{store: store}, nil
}

func newRulesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"r"},
		Short:   "Manage trigger/replacement rules",
		Long: `Manage rules. Commands go through the running daemon so changes apply
immediately; without a daemon they edit the rule file directly.`,
	}
	cmd.AddCommand(
		newRulesListCmd(c),
		newRulesAddCmd(c),
		newRulesRemoveCmd(c),
		newRulesClearCmd(c),
		newRulesImportCmd(c),
		newRulesExportCmd(c),
	)
	return cmd
}

func newRulesListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rules sorted by trigger",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			list, path, err := set.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No rules (%s)\n", path)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRIGGER\tREPLACEMENT")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\n", r.Trigger, oneLine(r.Replacement))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d rules in %s\n", len(list), path)
			return nil
		},
	}
}

func newRulesAddCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add <trigger> <replacement>",
		Short: "Add or overwrite a rule",
		Example: `  textreplacer rules add ";addr" "221B Baker Street"
  textreplacer rules add ";sig" "$(printf 'Best,\nAlex')"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			if err := set.Add(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q\n", strings.TrimSpace(args[0]))
			return nil
		},
	}
}

func newRulesRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <trigger>",
		Aliases: []string{"rm"},
		Short:   "Remove a rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			removed, err := set.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no rule for trigger %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", args[0])
			return nil
		},
	}
}

func newRulesClearCmd(c *cli) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove all rules?") {
				return errors.New("aborted")
			}
			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			n, err := set.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rules\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newRulesImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge rules from a JSON or YAML file",
		Long: `Import merges a trigger -> replacement mapping (or a list of
{trigger, replacement} objects) into the rule set. Existing triggers are
overwritten; invalid entries are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			incoming, err := rules.Import(f, rules.FormatFromPath(args[0]))
			if err != nil {
				return err
			}

			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			n, err := set.Import(incoming)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d rules\n", n, len(incoming))
			return err
		},
	}
}

func newRulesExportCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the rules as JSON or YAML",
		Long: `Export writes the rules sorted by trigger. The format follows the file
extension (.yaml/.yml for YAML) unless --format is given; without a file
the rules go to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := c.openRules(cmd)
			if err != nil {
				return err
			}
			defer set.Close()

			list, _, err := set.List()
			if err != nil {
				return err
			}
			mapping := make(map[string]string, len(list))
			for _, r := range list {
				mapping[r.Trigger] = r.Replacement
			}

			if len(args) == 0 {
				return rules.Export(cmd.OutOrStdout(), mapping, format)
			}
			if format == "" {
				format = rules.FormatFromPath(args[0])
			}
			return writeExport(args[0], mapping, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format (json, yaml)")
	return cmd
}

func writeExport(path string, mapping map[string]string, format string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := rules.Export(f, mapping, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// oneLine keeps multi-line replacements on one table row.
func oneLine(s string) string {
	return strings.NewReplacer("\n", `\n`, "\t", `\t`).Replace(s)
}
