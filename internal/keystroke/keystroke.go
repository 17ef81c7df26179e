// Package keystroke delivers system-wide key-down events to a Handler and
// lets the handler suppress them.
//
// Platform support:
//   - macOS: CGEventTap on a dedicated run-loop thread (requires the
//     Accessibility permission, plus Input Monitoring on recent releases)
//   - everything else: a stub whose Start returns ErrNotAvailable
//
// Events posted by this program carry SyntheticMarker in the event source
// user-data field and arrive with Event.Synthetic set, so the program never
// reacts to its own output.
package keystroke

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"textreplacer/internal/logging"
)

// SyntheticMarker tags events posted by the replayer.
const SyntheticMarker int64 = 0x5452504C // "TRPL"

var (
	// ErrNotAvailable is returned by Start where no keyboard hook exists.
	ErrNotAvailable = errors.New("keystroke: keyboard hook not available on this platform")

	// ErrPermissionDenied is returned by Start when the OS refuses the hook.
	ErrPermissionDenied = errors.New("keystroke: input monitoring permission not granted")

	// ErrHookFailed is returned when the hook was created but could not be run.
	ErrHookFailed = errors.New("keystroke: keyboard hook failed to start")

	// ErrBusy is returned when another Source already owns the process-wide hook.
	ErrBusy = errors.New("keystroke: keyboard hook in use by another source")
)

// Modifiers is the modifier-key state of an event. Bit values match the
// macOS CGEventFlags masks.
type Modifiers uint64

// Modifier masks.
const (
	ModCapsLock Modifiers = 1 << 16
	ModShift    Modifiers = 1 << 17
	ModControl  Modifiers = 1 << 18
	ModOption   Modifiers = 1 << 19
	ModCommand  Modifiers = 1 << 20
	ModFn       Modifiers = 1 << 23

	modMask = ModCapsLock | ModShift | ModControl | ModOption | ModCommand | ModFn
)

// Has reports whether all bits of m2 are set.
func (m Modifiers) Has(m2 Modifiers) bool {
	return m&m2 == m2
}

// Chord reports whether Command or Control is held, which makes the key a
// shortcut rather than text.
func (m Modifiers) Chord() bool {
	return m&(ModCommand|ModControl) != 0
}

// Event is a key-down delivered by a Source.
type Event struct {
	// KeyCode is the virtual key code (macOS kVK_* numbering).
	KeyCode uint16

	// Chars is the text the key produces under the current layout; empty
	// for keys that produce none.
	Chars string

	Modifiers Modifiers
	Timestamp time.Time

	// Synthetic is set for events this program posted itself.
	Synthetic bool
}

// Disposition tells the Source what to do with an event.
type Disposition int

const (
	// PassThrough delivers the event to the focused application.
	PassThrough Disposition = iota
	// Suppress drops the event.
	Suppress
)

func (d Disposition) String() string {
	if d == Suppress {
		return "suppress"
	}
	return "pass-through"
}

// Handler receives key-down events synchronously on the hook thread. It
// must return quickly: the OS disables slow hooks.
type Handler interface {
	OnKeyEvent(Event) Disposition
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event) Disposition

// OnKeyEvent implements Handler.
func (f HandlerFunc) OnKeyEvent(ev Event) Disposition { return f(ev) }

// Source is a keyboard hook.
type Source interface {
	// Start installs the hook. Calling Start while running is a no-op.
	Start(ctx context.Context) error

	// Stop removes the hook. Safe when not running.
	Stop() error

	// SetHandler replaces the event handler. A nil handler passes every event through.
	SetHandler(Handler)

	// IsRunning reports whether the hook is installed.
	IsRunning() bool

	// Available reports whether Start can succeed, with a human-readable reason.
	Available() (bool, string)

	// RequestPermission asks the OS for the permissions Start needs and
	// reports whether they are granted.
	RequestPermission() bool

	// EventsSeen returns the number of events delivered to the handler.
	EventsSeen() uint64

	// TapDisableCount returns how often the OS disabled the hook for
	// being too slow. The hook is re-enabled each time.
	TapDisableCount() int64
}

// Options configures a Source.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Crash recovers panics raised by the handler; such events pass through.
	Crash *logging.CrashHandler
}

// New creates the Source for the current platform.
func New(opts Options) Source {
	return newPlatformSource(opts)
}

// BaseSource provides running state, handler dispatch and counters for
// platform implementations.
type BaseSource struct {
	mu      sync.RWMutex
	running bool
	handler Handler

	logger      *slog.Logger
	crash       *logging.CrashHandler
	events      atomic.Uint64
	tapDisables atomic.Int64
}

func (b *BaseSource) init(opts Options) {
	b.logger = opts.Logger
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.crash = opts.Crash
}

// SetHandler implements Source.
func (b *BaseSource) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// SetRunning sets the running state.
func (b *BaseSource) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseSource) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// EventsSeen implements Source.
func (b *BaseSource) EventsSeen() uint64 {
	return b.events.Load()
}

// TapDisableCount implements Source.
func (b *BaseSource) TapDisableCount() int64 {
	return b.tapDisables.Load()
}

// Dispatch hands ev to the handler. A missing handler or a handler panic
// yields PassThrough so a bug never swallows the user's typing.
func (b *BaseSource) Dispatch(ev Event) (d Disposition) {
	b.mu.RLock()
	h := b.handler
	running := b.running
	b.mu.RUnlock()

	if h == nil || !running {
		return PassThrough
	}
	b.events.Add(1)

	if b.crash == nil {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("key handler panicked", "panic", r, "keycode", ev.KeyCode)
				d = PassThrough
			}
		}()
		return h.OnKeyEvent(ev)
	}

	d = PassThrough
	b.crash.Recover(func() { d = h.OnKeyEvent(ev) })
	return d
}
