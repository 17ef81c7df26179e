package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textreplacer/internal/metrics"
)

func newTestStore(t *testing.T, backend Backend) (*Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	s := NewStore(backend, Options{Metrics: m})
	t.Cleanup(func() { s.Close() })
	return s, m
}

func TestStoreSeedsMissingStorage(t *testing.T) {
	backend := NewMemoryBackend(nil)
	s, m := newTestStore(t, backend)
	s.Load()

	assert.Equal(t, map[string]string{DefaultTrigger: DefaultReplacement}, s.List())
	assert.Equal(t, 1, backend.Saves())
	assert.Equal(t, int64(1), m.Rules.Value())

	// A later load returns the persisted seed.
	again, _ := newTestStore(t, backend)
	again.Load()
	assert.Equal(t, map[string]string{DefaultTrigger: DefaultReplacement}, again.List())
	assert.Equal(t, 1, backend.Saves())
}

func TestStoreSeedsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	backend, err := NewJSONBackend(path)
	require.NoError(t, err)
	s, _ := newTestStore(t, backend)
	s.Load()
	assert.Equal(t, map[string]string{DefaultTrigger: DefaultReplacement}, s.List())

	loaded, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{DefaultTrigger: DefaultReplacement}, loaded)

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "the broken file is kept for recovery")
}

func TestStoreEmptyFileIsNotReseeded(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{})
	s, _ := newTestStore(t, backend)
	s.Load()
	assert.Empty(t, s.List())
	assert.Equal(t, 0, backend.Saves())
}

func TestStoreDisableSeed(t *testing.T) {
	s := NewStore(NewMemoryBackend(nil), Options{DisableSeed: true})
	s.Load()
	assert.Empty(t, s.List())
}

func TestStoreAddIsIdempotentAndOverwrites(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{})
	s, m := newTestStore(t, backend)
	s.Load()

	require.NoError(t, s.Add(";sig", "Regards"))
	require.NoError(t, s.Add(";sig", "Regards"))
	assert.Equal(t, map[string]string{";sig": "Regards"}, s.List())

	require.NoError(t, s.Add(";sig", "Cheers"))
	r, ok := s.Lookup(";sig")
	assert.True(t, ok)
	assert.Equal(t, "Cheers", r)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), m.Rules.Value())

	persisted, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{";sig": "Cheers"}, persisted)
}

func TestStoreAddValidation(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(map[string]string{}))
	s.Load()

	assert.ErrorIs(t, s.Add("   ", "x"), ErrEmptyTrigger)
	assert.ErrorIs(t, s.Add("", "x"), ErrEmptyTrigger)
	assert.ErrorIs(t, s.Add(";x", ""), ErrEmptyReplacement)
	assert.ErrorIs(t, s.Add(";x", " \n"), ErrEmptyReplacement)
	assert.Empty(t, s.List())

	require.NoError(t, s.Add("  ;addr  ", " 1 Main St "))
	r, ok := s.Lookup(";addr")
	assert.True(t, ok)
	assert.Equal(t, " 1 Main St ", r)
}

func TestStoreNormalizesToNFC(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(map[string]string{}))
	s.Load()

	require.NoError(t, s.Add("cafe\u0301", "coffee"))
	_, ok := s.Lookup("caf\u00e9")
	assert.True(t, ok)

	rule, ok := s.FindMatch("un cafe\u0301")
	assert.True(t, ok)
	assert.Equal(t, "caf\u00e9", rule.Trigger)
}

func TestStoreRemoveAndClear(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{"a1": "x", "b2": "y"})
	s, _ := newTestStore(t, backend)
	s.Load()

	assert.False(t, s.Remove("missing"))
	assert.Equal(t, 0, backend.Saves())

	assert.True(t, s.Remove("a1"))
	assert.Equal(t, map[string]string{"b2": "y"}, s.List())
	assert.Equal(t, 1, backend.Saves())

	s.Clear()
	assert.Empty(t, s.List())
	persisted, err := backend.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted)

	_, ok := s.FindMatch("b2")
	assert.False(t, ok)
}

func TestStoreSorted(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(map[string]string{"zz": "1", "aa": "2", "mm": "3"}))
	s.Load()
	assert.Equal(t, []Rule{
		{Trigger: "aa", Replacement: "2"},
		{Trigger: "mm", Replacement: "3"},
		{Trigger: "zz", Replacement: "1"},
	}, s.Sorted())
}

func TestStoreListIsACopy(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(map[string]string{"a": "b"}))
	s.Load()
	list := s.List()
	list["c"] = "d"
	assert.Equal(t, 1, s.Len())
}

func TestStorePersistFailureKeepsMemory(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{})
	s, m := newTestStore(t, backend)
	s.Load()

	backend.FailSaves(errors.New("disk full"))
	require.NoError(t, s.Add(";x", "kept"))
	r, ok := s.Lookup(";x")
	assert.True(t, ok)
	assert.Equal(t, "kept", r)
	assert.Equal(t, uint64(1), m.PersistErrorsTotal.Value())
}

func TestStoreMerge(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{"a1": "old"})
	s, _ := newTestStore(t, backend)
	s.Load()

	n, err := s.Merge(map[string]string{"a1": "new", "b2": "two", "": "bad", "c3": ""})
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, ErrEmptyTrigger)
	assert.ErrorIs(t, err, ErrEmptyReplacement)
	assert.Equal(t, map[string]string{"a1": "new", "b2": "two"}, s.List())
	assert.Equal(t, 1, backend.Saves())
}

func TestStoreReload(t *testing.T) {
	backend := NewMemoryBackend(map[string]string{"a1": "x"})
	s, m := newTestStore(t, backend)
	s.Load()

	require.NoError(t, backend.Save(map[string]string{"b2": "y"}))
	require.NoError(t, s.Reload())
	assert.Equal(t, map[string]string{"b2": "y"}, s.List())
	assert.Equal(t, uint64(1), m.ReloadsTotal.Value())
}

func TestStoreReloadCorruptKeepsRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	backend, err := NewJSONBackend(path)
	require.NoError(t, err)
	require.NoError(t, backend.Save(map[string]string{"a1": "x"}))

	s, _ := newTestStore(t, backend)
	s.Load()

	require.NoError(t, os.WriteFile(path, []byte(`{"a1": 5}`), 0o600))
	err = s.Reload()
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, map[string]string{"a1": "x"}, s.List())
}

func TestEndToEndMatchThroughStore(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend(map[string]string{";wka": "hello"}))
	s.Load()

	rule, ok := s.FindMatch("x;wka")
	require.True(t, ok)
	assert.Equal(t, ";wka", rule.Trigger)
	assert.Equal(t, "hello", rule.Replacement)
	assert.Equal(t, 4, rule.Length())
}

// slowBackend blocks every Save until release is closed.
type slowBackend struct {
	*MemoryBackend
	saving  chan struct{}
	release chan struct{}
}

func (b *slowBackend) Save(rules map[string]string) error {
	b.saving <- struct{}{}
	<-b.release
	return b.MemoryBackend.Save(rules)
}

func TestStoreSaveDoesNotBlockMatching(t *testing.T) {
	backend := &slowBackend{
		MemoryBackend: NewMemoryBackend(map[string]string{";wka": "hello"}),
		saving:        make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	s, _ := newTestStore(t, backend)
	s.Load()

	added := make(chan struct{})
	go func() {
		defer close(added)
		assert.NoError(t, s.Add(";x", "y"))
	}()
	<-backend.saving

	matched := make(chan Rule, 1)
	go func() {
		r, _ := s.FindMatch("x;wka")
		matched <- r
	}()
	select {
	case r := <-matched:
		assert.Equal(t, ";wka", r.Trigger)
	case <-time.After(time.Second):
		t.Fatal("FindMatch blocked behind a save")
	}

	_, ok := s.FindMatch("a;x")
	assert.True(t, ok, "the new rule matches before it is persisted")
	assert.Equal(t, 2, s.Len())

	close(backend.release)
	<-added
	saved, err := backend.MemoryBackend.Load()
	require.NoError(t, err)
	assert.Equal(t, "y", saved[";x"])
}
