package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"textreplacer/internal/keystroke"
	"textreplacer/internal/replay"
)

// HookCheck reports whether the keyboard hook can run and is running.
// enabled reports the monitor state; nil means only availability matters.
func HookCheck(src keystroke.Source, enabled func() bool) Check {
	return func(context.Context) Result {
		ok, reason := src.Available()
		if !ok {
			return Unhealthy(reason, keystroke.ErrPermissionDenied)
		}
		r := Healthy("expanding")
		if enabled != nil && !enabled() {
			r = Degraded("hook available, expansion disabled")
		}
		r.Details = map[string]any{
			"events_seen":  src.EventsSeen(),
			"tap_disables": src.TapDisableCount(),
		}
		return r
	}
}

// StorageCheck verifies that the rule file (or database) of backend kind
// at path can be read and its directory written.
func StorageCheck(kind, path string) Check {
	return func(context.Context) Result {
		if kind == "memory" {
			return Degraded("rules are kept in memory only")
		}
		dir := filepath.Dir(path)
		info, err := os.Stat(dir)
		if err != nil {
			return Unhealthy("rule directory missing", err)
		}
		if !info.IsDir() {
			return Unhealthy("rule directory is not a directory", fmt.Errorf("%s", dir))
		}
		probe, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Unhealthy("rule directory not writable", err)
		}
		probe.Close()
		os.Remove(probe.Name())

		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Degraded("rule storage not created yet")
		case err != nil:
			return Unhealthy("rule storage unreadable", err)
		}
		f.Close()
		r := Healthy("rule storage readable")
		r.Details = map[string]any{"path": path, "backend": kind}
		return r
	}
}

// PosterCheck reports whether synthetic key events can be posted.
// err is the result of creating the poster.
func PosterCheck(err error) Check {
	return func(context.Context) Result {
		if err != nil {
			return Unhealthy("synthetic input unavailable", err)
		}
		return Healthy("synthetic input available")
	}
}

// ClipboardCheck reads the clipboard once. A missing clipboard only
// degrades expansion: characters without a key mapping are skipped.
func ClipboardCheck(clip replay.ClipboardAccessor) Check {
	return func(context.Context) Result {
		if clip == nil {
			return Degraded("clipboard unavailable, paste fallback disabled")
		}
		if _, _, err := clip.GetText(); err != nil {
			r := Degraded("clipboard read failed")
			r.Error = err.Error()
			return r
		}
		return Healthy("clipboard readable")
	}
}
