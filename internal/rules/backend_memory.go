package rules

import (
	"maps"
	"sync"
)

// MemoryBackend keeps rules in process memory. It reports ErrNotFound
// until the first Save, like a fresh rule file.
type MemoryBackend struct {
	mu    sync.Mutex
	rules map[string]string
	saves int
	err   error
}

// NewMemoryBackend returns a backend preloaded with initial. A nil map
// behaves as missing storage.
func NewMemoryBackend(initial map[string]string) *MemoryBackend {
	return &MemoryBackend{rules: maps.Clone(initial)}
}

// Load implements Backend.
func (b *MemoryBackend) Load() (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rules == nil {
		return nil, ErrNotFound
	}
	return maps.Clone(b.rules), nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(rules map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.rules = maps.Clone(rules)
	if b.rules == nil {
		b.rules = map[string]string{}
	}
	b.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// FailSaves makes subsequent saves return err; nil restores normal saves.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// Path implements Backend.
func (b *MemoryBackend) Path() string { return ":memory:" }
