package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"textreplacer/internal/keystroke"
)

// KeyPost is one event captured by RecordingPoster.
type KeyPost struct {
	Code uint16
	Down bool
	Mods keystroke.Modifiers
}

func (k KeyPost) String() string {
	dir := "up"
	if k.Down {
		dir = "down"
	}
	return fmt.Sprintf("%d/%s/%#x", k.Code, dir, uint64(k.Mods))
}

// RecordingPoster records events instead of posting them. FailAfter makes
// the poster fail once that many events were recorded; zero never fails.
type RecordingPoster struct {
	mu        sync.Mutex
	posts     []KeyPost
	FailAfter int
	Err       error

	// OnPost, when set, runs for every recorded event.
	OnPost func(KeyPost)
}

// PostKey implements Poster.
func (p *RecordingPoster) PostKey(code uint16, down bool, mods keystroke.Modifiers) error {
	p.mu.Lock()
	if p.FailAfter > 0 && len(p.posts) >= p.FailAfter {
		p.mu.Unlock()
		if p.Err != nil {
			return p.Err
		}
		return ErrNotSupported
	}
	k := KeyPost{Code: code, Down: down, Mods: mods}
	p.posts = append(p.posts, k)
	hook := p.OnPost
	p.mu.Unlock()

	if hook != nil {
		hook(k)
	}
	return nil
}

// Posts returns the recorded events.
func (p *RecordingPoster) Posts() []KeyPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]KeyPost(nil), p.posts...)
}

// Downs returns the key codes of the recorded key-down events.
func (p *RecordingPoster) Downs() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint16
	for _, k := range p.posts {
		if k.Down {
			out = append(out, k.Code)
		}
	}
	return out
}

// MemoryClipboard is an in-process clipboard that records every write.
type MemoryClipboard struct {
	mu     sync.Mutex
	text   string
	hasTxt bool
	writes []string
}

// NewMemoryClipboard creates a clipboard holding text; an empty string
// means no text at all.
func NewMemoryClipboard(text string) *MemoryClipboard {
	return &MemoryClipboard{text: text, hasTxt: text != ""}
}

// GetText implements ClipboardAccessor.
func (c *MemoryClipboard) GetText() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.hasTxt, nil
}

// SetText implements ClipboardAccessor.
func (c *MemoryClipboard) SetText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.hasTxt = true
	c.writes = append(c.writes, text)
	return nil
}

// Writes returns every value written, in order.
func (c *MemoryClipboard) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// RecordingRunner captures jobs instead of replaying them.
type RecordingRunner struct {
	mu    sync.Mutex
	jobs  []Job
	Delay time.Duration
	Err   error
}

// Replay implements Runner.
func (r *RecordingRunner) Replay(ctx context.Context, triggerLength int, replacement string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, Job{TriggerLength: triggerLength, Replacement: replacement})
	return r.Err
}

// Jobs returns the jobs run so far.
func (r *RecordingRunner) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...)
}
