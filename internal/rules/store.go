package rules

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"textreplacer/internal/metrics"
)

// Options configures a Store.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics receives the rule count and persistence counters. A private
	// registry is used when nil.
	Metrics *metrics.Metrics

	// DisableSeed skips installing the default rule when storage is
	// missing or corrupt.
	DisableSeed bool
}

// Store is the in-memory rule set, persisted through a Backend on every
// mutation. Persistence failures are logged and counted but never returned:
// the in-memory state stays authoritative.
//
// FindMatch runs on the keyboard hook thread and takes no lock. Saves run
// outside mu, so a slow or locked rule file never stalls typing.
type Store struct {
	mu      sync.RWMutex
	rules   map[string]string
	gen     uint64
	matcher atomic.Pointer[Matcher]

	// saveMu orders writes to the backend; saved is the newest generation
	// handed to it.
	saveMu sync.Mutex
	saved  uint64

	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	seed    bool
}

// NewStore creates an empty store over backend. Call Load to read it.
func NewStore(backend Backend, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	s := &Store{
		rules:   make(map[string]string),
		backend: backend,
		logger:  logger,
		metrics: m,
		seed:    !opts.DisableSeed,
	}
	s.matcher.Store(NewMatcher(nil))
	return s
}

// Load replaces the in-memory rules with the backend's. Missing or corrupt
// storage falls back to the default rule, which is persisted immediately;
// a corrupt rule file is first moved aside when the backend supports it.
// Any other read failure leaves an empty set and does not touch storage.
func (s *Store) Load() {
	loaded, err := s.backend.Load()

	switch {
	case err == nil:
		s.mu.Lock()
		s.replaceLocked(loaded)
		count := len(s.rules)
		s.mu.Unlock()
		s.logger.Info("rules loaded", "count", count, "path", s.backend.Path())

	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		write := true
		if errors.Is(err, ErrCorrupt) {
			s.logger.Warn("rule storage unreadable, starting over", "path", s.backend.Path(), "error", err)
			write = s.quarantine()
		}

		s.mu.Lock()
		s.replaceLocked(nil)
		if s.seed {
			s.rules[DefaultTrigger] = DefaultReplacement
			s.rebuildLocked()
			s.logger.Info("seeded default rule", "trigger", DefaultTrigger)
		}
		snap, gen := s.snapshotLocked()
		s.mu.Unlock()
		if write {
			s.persist(snap, gen)
		}

	default:
		s.logger.Error("load rules", "path", s.backend.Path(), "error", err)
		s.mu.Lock()
		s.replaceLocked(nil)
		s.mu.Unlock()
	}
}

// quarantine moves corrupt storage aside. It reports whether fresh storage
// may be written; when the move fails the old file is left as it is and
// the next mutation overwrites it.
func (s *Store) quarantine() bool {
	q, ok := s.backend.(Quarantiner)
	if !ok {
		return true
	}
	moved, err := q.Quarantine()
	if err != nil {
		s.logger.Error("corrupt rule storage not moved aside",
			"path", s.backend.Path(), "error", err)
		return false
	}
	s.logger.Warn("corrupt rule storage moved aside", "path", moved)
	return true
}

// Reload re-reads the backend after an external edit. On any error the
// current rules are kept.
func (s *Store) Reload() error {
	loaded, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}

	s.mu.Lock()
	s.replaceLocked(loaded)
	count := len(s.rules)
	s.mu.Unlock()

	s.metrics.ReloadsTotal.Inc()
	s.logger.Info("rules reloaded", "count", count)
	return nil
}

// Add inserts or overwrites a rule and persists the full set.
func (s *Store) Add(trigger, replacement string) error {
	trigger, replacement, err := validate(trigger, replacement)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.rules[trigger] = replacement
	s.rebuildLocked()
	snap, gen := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap, gen)
	s.logger.Debug("rule added", "trigger", trigger, "replacement", replacement)
	return nil
}

// Merge adds every valid pair of rules with a single persist. It returns the
// number of rules stored and the validation errors of the rejected ones.
func (s *Store) Merge(rules map[string]string) (int, error) {
	var errs []error
	valid := make(map[string]string, len(rules))
	for _, trigger := range slices.Sorted(maps.Keys(rules)) {
		t, r, err := validate(trigger, rules[trigger])
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", trigger, err))
			continue
		}
		valid[t] = r
	}

	if len(valid) > 0 {
		s.mu.Lock()
		maps.Copy(s.rules, valid)
		s.rebuildLocked()
		snap, gen := s.snapshotLocked()
		s.mu.Unlock()
		s.persist(snap, gen)
	}
	return len(valid), errors.Join(errs...)
}

// Remove deletes trigger if present and persists. It reports whether a
// rule was removed.
func (s *Store) Remove(trigger string) bool {
	trigger = NormalizeTrigger(trigger)

	s.mu.Lock()
	if _, ok := s.rules[trigger]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.rules, trigger)
	s.rebuildLocked()
	snap, gen := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap, gen)
	s.logger.Debug("rule removed", "trigger", trigger)
	return true
}

// Clear removes every rule and persists the empty set.
func (s *Store) Clear() {
	s.mu.Lock()
	clear(s.rules)
	s.rebuildLocked()
	snap, gen := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap, gen)
	s.logger.Info("rules cleared")
}

// List returns a copy of the rule set.
func (s *Store) List() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.rules)
}

// Sorted returns the rules ordered by trigger.
func (s *Store) Sorted() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for t, r := range s.rules {
		out = append(out, Rule{Trigger: t, Replacement: r})
	}
	slices.SortFunc(out, func(a, b Rule) int { return cmp.Compare(a.Trigger, b.Trigger) })
	return out
}

// Lookup returns the replacement for trigger.
func (s *Store) Lookup(trigger string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[NormalizeTrigger(trigger)]
	return r, ok
}

// Len returns the number of rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Path describes where the rules are persisted.
func (s *Store) Path() string {
	return s.backend.Path()
}

// FindMatch returns the rule whose trigger ends buffer.
func (s *Store) FindMatch(buffer string) (Rule, bool) {
	return s.matcher.Load().Match(norm.NFC.String(buffer))
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) replaceLocked(rules map[string]string) {
	s.rules = make(map[string]string, len(rules))
	for t, r := range rules {
		if t = NormalizeTrigger(t); t != "" {
			s.rules[t] = NormalizeReplacement(r)
		}
	}
	s.rebuildLocked()
}

func (s *Store) rebuildLocked() {
	s.gen++
	s.matcher.Store(NewMatcher(s.rules))
	s.metrics.Rules.Set(int64(len(s.rules)))
}

func (s *Store) snapshotLocked() (map[string]string, uint64) {
	return maps.Clone(s.rules), s.gen
}

// persist writes snap unless a newer generation already went to the
// backend. Called without mu held.
func (s *Store) persist(snap map[string]string, gen uint64) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if gen <= s.saved {
		return
	}
	s.saved = gen
	if err := s.backend.Save(snap); err != nil {
		s.metrics.PersistErrorsTotal.Inc()
		s.logger.Error("persist rules", "path", s.backend.Path(), "error", err)
	}
}
