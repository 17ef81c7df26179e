//go:build !darwin || !cgo

package replay

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// clipboardTool is one external program pair for reading and writing the clipboard.
type clipboardTool struct {
	get []string
	set []string
}

var clipboardTools = map[string][]clipboardTool{
	"darwin": {
		{get: []string{"pbpaste"}, set: []string{"pbcopy"}},
	},
	"linux": {
		{get: []string{"wl-paste", "--no-newline"}, set: []string{"wl-copy"}},
		{get: []string{"xclip", "-selection", "clipboard", "-o"}, set: []string{"xclip", "-selection", "clipboard", "-i"}},
		{get: []string{"xsel", "--clipboard", "--output"}, set: []string{"xsel", "--clipboard", "--input"}},
	},
}

// ExecClipboard shells out to the platform clipboard tools.
type ExecClipboard struct {
	tool clipboardTool
}

// NewClipboard returns a clipboard backed by the first tool found on PATH.
func NewClipboard() (ClipboardAccessor, error) {
	for _, tool := range clipboardTools[runtime.GOOS] {
		if _, err := exec.LookPath(tool.get[0]); err != nil {
			continue
		}
		if _, err := exec.LookPath(tool.set[0]); err != nil {
			continue
		}
		return &ExecClipboard{tool: tool}, nil
	}
	return nil, ErrNoClipboard
}

// GetText implements ClipboardAccessor. Tool failures with empty output are
// reported as an empty clipboard, which is how xclip and wl-paste signal it.
func (c *ExecClipboard) GetText() (string, bool, error) {
	var stderr bytes.Buffer
	cmd := exec.Command(c.tool.get[0], c.tool.get[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if len(out) == 0 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("replay: %s: %w: %s", c.tool.get[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), true, nil
}

// SetText implements ClipboardAccessor.
func (c *ExecClipboard) SetText(text string) error {
	cmd := exec.Command(c.tool.set[0], c.tool.set[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("replay: %s: %w: %s", c.tool.set[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
