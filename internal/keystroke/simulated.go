package keystroke

import (
	"context"
	"sync"
	"time"
)

// SimulatedSource is a Source for tests that doesn't hook the real keyboard.
// Events are injected with Press, Type and Inject.
type SimulatedSource struct {
	BaseSource

	mu           sync.Mutex
	dispositions []Disposition
	available    bool
	granted      bool
}

// NewSimulated creates a simulated source that reports itself available.
func NewSimulated(opts Options) *SimulatedSource {
	s := &SimulatedSource{available: true, granted: true}
	s.init(opts)
	return s
}

// Start implements Source.
func (s *SimulatedSource) Start(context.Context) error {
	if !s.available {
		return ErrNotAvailable
	}
	s.SetRunning(true)
	return nil
}

// Stop implements Source.
func (s *SimulatedSource) Stop() error {
	s.SetRunning(false)
	return nil
}

// Available implements Source.
func (s *SimulatedSource) Available() (bool, string) {
	if !s.available {
		return false, "simulated source disabled"
	}
	return true, "simulated source (for testing)"
}

// SetAvailable controls what Available and Start report.
func (s *SimulatedSource) SetAvailable(ok bool) {
	s.available = ok
}

// RequestPermission implements Source.
func (s *SimulatedSource) RequestPermission() bool {
	return s.granted
}

// SetPermission sets the RequestPermission result.
func (s *SimulatedSource) SetPermission(granted bool) {
	s.granted = granted
}

// SimulateTapDisable records a system tap disable.
func (s *SimulatedSource) SimulateTapDisable() {
	s.tapDisables.Add(1)
}

// Inject delivers ev as if typed and returns the handler's decision.
// Events injected while stopped pass through untouched.
func (s *SimulatedSource) Inject(ev Event) Disposition {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	d := s.Dispatch(ev)
	s.mu.Lock()
	s.dispositions = append(s.dispositions, d)
	s.mu.Unlock()
	return d
}

// Press injects a key that produces no text.
func (s *SimulatedSource) Press(code uint16, mods Modifiers) Disposition {
	return s.Inject(Event{KeyCode: code, Modifiers: mods})
}

// Type injects one event per character of text using the US layout.
// Characters without a key arrive with key code 0xFFFF.
func (s *SimulatedSource) Type(text string) []Disposition {
	out := make([]Disposition, 0, len(text))
	for _, r := range text {
		code, shift, ok := KeyForRune(r)
		if !ok {
			code = 0xFFFF
		}
		var mods Modifiers
		if shift {
			mods = ModShift
		}
		out = append(out, s.Inject(Event{KeyCode: code, Chars: string(r), Modifiers: mods}))
	}
	return out
}

// Dispositions returns every decision made so far.
func (s *SimulatedSource) Dispositions() []Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Disposition(nil), s.dispositions...)
}

var _ Source = (*SimulatedSource)(nil)
