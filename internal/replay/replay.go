// Package replay deletes a matched trigger and types its replacement with
// synthetic key events.
//
// Characters the US keyboard layout can type are sent as key presses, with
// Shift held where needed. Anything else (accented letters, emoji, symbols)
// is pasted through the clipboard, whose previous text is restored
// afterwards.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"textreplacer/internal/keystroke"
	"textreplacer/internal/metrics"
)

var (
	// ErrNotSupported is returned by posters and clipboards on platforms
	// without synthetic input.
	ErrNotSupported = errors.New("replay: synthetic input not supported on this platform")

	// ErrNoClipboard is returned when the clipboard tools are missing.
	ErrNoClipboard = errors.New("replay: no clipboard tool available")
)

// Poster posts one synthetic key event. Implementations tag the event with
// keystroke.SyntheticMarker.
type Poster interface {
	PostKey(code uint16, down bool, mods keystroke.Modifiers) error
}

// ClipboardAccessor reads and writes the plain-text clipboard.
type ClipboardAccessor interface {
	// GetText returns the clipboard text; ok is false when the clipboard
	// holds no text.
	GetText() (text string, ok bool, err error)

	// SetText replaces the clipboard contents with text.
	SetText(text string) error
}

// Timings controls pacing. Applications drop events posted too quickly.
type Timings struct {
	BackspaceDelay  time.Duration
	KeystrokeDelay  time.Duration
	ClipboardSettle time.Duration

	// ClipboardFallback enables pasting characters without a key mapping.
	// When off they are skipped.
	ClipboardFallback bool
}

// DefaultTimings returns the standard pacing.
func DefaultTimings() Timings {
	return Timings{
		BackspaceDelay:    5 * time.Millisecond,
		KeystrokeDelay:    10 * time.Millisecond,
		ClipboardSettle:   50 * time.Millisecond,
		ClipboardFallback: true,
	}
}

// Options configures a Replayer.
type Options struct {
	Timings Timings
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Replayer types replacements. It is not safe for concurrent Replay calls;
// run it behind a Queue.
type Replayer struct {
	poster    Poster
	clipboard ClipboardAccessor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sleep     func(time.Duration)

	mu      sync.RWMutex
	timings Timings
}

// New creates a Replayer. clipboard may be nil, which disables the paste path.
func New(poster Poster, clipboard ClipboardAccessor, opts Options) *Replayer {
	r := &Replayer{
		poster:    poster,
		clipboard: clipboard,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		sleep:     opts.Sleep,
		timings:   opts.Timings,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	if r.sleep == nil {
		r.sleep = time.Sleep
	}
	return r
}

// SetTimings replaces the pacing; it applies from the next Replay.
func (r *Replayer) SetTimings(t Timings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings = t
}

// Timings returns the current pacing.
func (r *Replayer) Timings() Timings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timings
}

// Replay erases a matched trigger of triggerLength characters and types
// replacement. The keystroke that completed the trigger was suppressed, so
// only triggerLength-1 characters reached the application and are erased.
// ctx is checked once before starting; a replay in progress always runs to
// completion or to the first posting error.
func (r *Replayer) Replay(ctx context.Context, triggerLength int, replacement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := r.Timings()
	start := time.Now()

	erase := max(triggerLength-1, 0)
	for i := 0; i < erase; i++ {
		if err := r.tap(keystroke.KeyBackspace, 0); err != nil {
			return fmt.Errorf("replay: backspace %d of %d: %w", i+1, erase, err)
		}
		r.sleep(t.BackspaceDelay)
	}

	gr := uniseg.NewGraphemes(replacement)
	for gr.Next() {
		cluster := gr.Str()
		if code, shift, ok := keystroke.KeyForText(cluster); ok {
			if err := r.typeKey(code, shift); err != nil {
				return fmt.Errorf("replay: type %q: %w", cluster, err)
			}
		} else if t.ClipboardFallback && r.clipboard != nil {
			if err := r.paste(cluster, t); err != nil {
				return fmt.Errorf("replay: paste: %w", err)
			}
		} else {
			r.logger.Debug("skipping character without key mapping", "bytes", len(cluster))
		}
		r.sleep(t.KeystrokeDelay)
	}

	r.metrics.ReplaysTotal.Inc()
	r.metrics.ReplayDuration.ObserveDuration(time.Since(start))
	return nil
}

func (r *Replayer) tap(code uint16, mods keystroke.Modifiers) error {
	if err := r.poster.PostKey(code, true, mods); err != nil {
		return err
	}
	return r.poster.PostKey(code, false, mods)
}

func (r *Replayer) typeKey(code uint16, shift bool) error {
	if !shift {
		return r.tap(code, 0)
	}
	if err := r.poster.PostKey(keystroke.KeyShift, true, keystroke.ModShift); err != nil {
		return err
	}
	err := r.tap(code, keystroke.ModShift)
	// Release Shift even after a failed tap so it never sticks.
	if uerr := r.poster.PostKey(keystroke.KeyShift, false, 0); err == nil {
		err = uerr
	}
	return err
}

// paste places text on the clipboard, sends Command+V and restores the
// previous clipboard text.
func (r *Replayer) paste(text string, t Timings) error {
	saved, hadText, err := r.clipboard.GetText()
	if err != nil {
		r.logger.Warn("clipboard read failed, contents will not be restored", "error", err)
		hadText = false
	}

	if err := r.clipboard.SetText(text); err != nil {
		return err
	}
	r.metrics.ClipboardFallbacksTotal.Inc()

	var postErr error
	if postErr = r.poster.PostKey(keystroke.KeyCommand, true, keystroke.ModCommand); postErr == nil {
		if postErr = r.poster.PostKey(keystroke.KeyV, true, keystroke.ModCommand); postErr == nil {
			r.sleep(t.KeystrokeDelay)
			postErr = r.poster.PostKey(keystroke.KeyV, false, keystroke.ModCommand)
		}
		if uerr := r.poster.PostKey(keystroke.KeyCommand, false, 0); postErr == nil {
			postErr = uerr
		}
	}

	// The target app reads the clipboard asynchronously.
	r.sleep(t.ClipboardSettle)

	if hadText {
		if err := r.clipboard.SetText(saved); err != nil {
			r.logger.Warn("clipboard restore failed", "error", err)
		}
	}
	return postErr
}
