// Package monitor turns key events into trigger matches: it keeps the
// recent-input buffer, asks the rule matcher for a suffix match and hands
// matches to the replay queue.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"textreplacer/internal/keystroke"
	"textreplacer/internal/metrics"
	"textreplacer/internal/rules"
)

// State is the monitor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Matcher finds the rule whose trigger is a suffix of buffer.
type Matcher interface {
	FindMatch(buffer string) (rules.Rule, bool)
}

// Enqueuer schedules a replay without blocking.
type Enqueuer interface {
	Enqueue(triggerLength int, replacement string) error
}

// Options configures a Monitor.
type Options struct {
	// BufferSize bounds the input buffer in characters.
	BufferSize int

	// ResetOnSpace clears the buffer on space, so triggers never span words.
	ResetOnSpace bool

	// ResetOnChord clears the buffer on Command or Control shortcuts.
	ResetOnChord bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the standard matching behaviour.
func DefaultOptions() Options {
	return Options{
		BufferSize:   DefaultBufferSize,
		ResetOnSpace: true,
		ResetOnChord: true,
	}
}

// Monitor is the keystroke.Handler that drives expansion.
type Monitor struct {
	source  keystroke.Source
	matcher Matcher
	queue   Enqueuer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// lifecycle serialises Start and Stop, which call into the source.
	lifecycle sync.Mutex

	mu           sync.Mutex
	state        State
	starting     bool
	buf          *Buffer
	resetOnSpace bool
	resetOnChord bool
}

// New creates a stopped monitor and registers it as source's handler.
func New(source keystroke.Source, matcher Matcher, queue Enqueuer, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	m := &Monitor{
		source:       source,
		matcher:      matcher,
		queue:        queue,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		buf:          NewBuffer(opts.BufferSize),
		resetOnSpace: opts.ResetOnSpace,
		resetOnChord: opts.ResetOnChord,
	}
	source.SetHandler(m)
	return m
}

// Start installs the keyboard hook. On failure the monitor stays stopped.
// A monitor whose source stopped on its own is started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	m.reconcileLocked()
	if m.state == StateRunning {
		m.mu.Unlock()
		return nil
	}
	// Running before the hook starts so the first event is handled.
	m.state = StateRunning
	m.starting = true
	m.mu.Unlock()

	err := m.source.Start(ctx)

	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.state = StateStopped
		m.buf.Reset()
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	m.logger.Info("monitor started")
	return nil
}

// Stop removes the hook and clears the buffer.
func (m *Monitor) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.Enabled() {
		return nil
	}

	err := m.source.Stop()
	m.mu.Lock()
	m.state = StateStopped
	m.buf.Reset()
	m.mu.Unlock()
	m.metrics.BufferRunes.Set(0)

	if err != nil {
		return fmt.Errorf("stop monitor: %w", err)
	}
	m.logger.Info("monitor stopped")
	return nil
}

// reconcileLocked moves a running monitor to STOPPED when its source
// stopped underneath it, e.g. after the OS tore down the event tap.
func (m *Monitor) reconcileLocked() {
	if m.state != StateRunning || m.starting || m.source.IsRunning() {
		return
	}
	m.state = StateStopped
	m.buf.Reset()
	m.metrics.BufferRunes.Set(0)
	m.logger.Warn("keyboard hook stopped, monitor disabled")
}

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileLocked()
	return m.state
}

// Enabled reports whether the monitor is running.
func (m *Monitor) Enabled() bool {
	return m.State() == StateRunning
}

// Buffer returns the buffered text.
func (m *Monitor) Buffer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

// SetOptions applies new matching settings. The buffer is kept, trimmed to
// the new bound.
func (m *Monitor) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.SetMax(opts.BufferSize)
	m.resetOnSpace = opts.ResetOnSpace
	m.resetOnChord = opts.ResetOnChord
}

// OnKeyEvent implements keystroke.Handler. It runs on the hook thread.
func (m *Monitor) OnKeyEvent(ev keystroke.Event) keystroke.Disposition {
	if ev.Synthetic {
		m.metrics.SyntheticTotal.Inc()
		return keystroke.PassThrough
	}
	m.metrics.KeystrokesTotal.Inc()

	m.mu.Lock()
	defer func() {
		m.metrics.BufferRunes.Set(int64(m.buf.Len()))
		m.mu.Unlock()
	}()

	if m.state != StateRunning {
		return keystroke.PassThrough
	}

	switch {
	case m.resetOnChord && ev.Modifiers.Chord():
		m.buf.Reset()
		return keystroke.PassThrough
	case ev.KeyCode == keystroke.KeySpace && !m.resetOnSpace:
		// Space is ordinary text.
	case keystroke.IsSpecial(ev.KeyCode):
		m.buf.Reset()
		return keystroke.PassThrough
	case ev.KeyCode == keystroke.KeyBackspace:
		m.buf.Backspace()
		return keystroke.PassThrough
	}

	text := printable(ev.Chars)
	if text == "" {
		return keystroke.PassThrough
	}
	m.buf.Append(text)

	rule, ok := m.matcher.FindMatch(m.buf.String())
	if !ok {
		return keystroke.PassThrough
	}
	m.buf.Reset()
	m.metrics.MatchesTotal.Inc()

	if err := m.queue.Enqueue(rule.Length(), rule.Replacement); err != nil {
		m.logger.Warn("replay not scheduled, key passed through", "error", err)
		return keystroke.PassThrough
	}
	m.logger.Debug("trigger matched", "trigger_length", rule.Length())
	return keystroke.Suppress
}

// printable drops control characters and the private-use code points macOS
// reports for function and navigation keys.
func printable(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0xF700 && r <= 0xF8FF:
			return -1
		}
		return r
	}, s)
}
