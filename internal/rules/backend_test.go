package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rules := map[string]string{
		";wkaeupon": "sudo pmset disablesleep 1",
		";sig":      "Best regards,\nJo",
		";html":     "<b>&</b>",
		"café":      "☕",
	}

	backends := map[string]func() (Backend, error){
		"json":   func() (Backend, error) { return NewJSONBackend(filepath.Join(dir, "rules.json")) },
		"sqlite": func() (Backend, error) { return OpenSQLiteBackend(filepath.Join(dir, "rules.db")) },
		"memory": func() (Backend, error) { return NewMemoryBackend(nil), nil },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			b, err := open()
			require.NoError(t, err)
			defer b.Close()

			_, err = b.Load()
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Save(rules))
			loaded, err := b.Load()
			require.NoError(t, err)
			assert.Equal(t, rules, loaded)

			require.NoError(t, b.Save(map[string]string{}))
			loaded, err = b.Load()
			require.NoError(t, err)
			assert.Empty(t, loaded)
		})
	}
}

func TestSQLiteBackendReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	b, err := OpenSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Save(map[string]string{";a": "alpha"}))
	require.NoError(t, b.Close())

	b, err = OpenSQLiteBackend(path)
	require.NoError(t, err)
	defer b.Close()
	loaded, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{";a": "alpha"}, loaded)
}

func TestSQLiteUnreachableIsNotCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	b, err := OpenSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Save(map[string]string{";a": "alpha", ";b": "beta"}))
	require.NoError(t, b.db.Close())

	_, err = b.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorrupt)

	s := NewStore(b, Options{})
	s.Load()
	assert.Empty(t, s.List(), "unreadable storage is not reseeded")

	reopened, err := OpenSQLiteBackend(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{";a": "alpha", ";b": "beta"}, loaded)
}

func TestClassifySQLiteError(t *testing.T) {
	err := classifySQLiteError("read meta", sqlite3.Error{Code: sqlite3.ErrCorrupt})
	assert.ErrorIs(t, err, ErrCorrupt)

	err = classifySQLiteError("read meta", sqlite3.Error{Code: sqlite3.ErrNotADB})
	assert.ErrorIs(t, err, ErrCorrupt)

	err = classifySQLiteError("read meta", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.NotErrorIs(t, err, ErrCorrupt)
	var serr sqlite3.Error
	assert.ErrorAs(t, err, &serr)
}

func TestJSONBackendFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.json")
	b, err := NewJSONBackend(path)
	require.NoError(t, err)

	require.NoError(t, b.Save(map[string]string{"b": "<2>", "a": "1"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"1\",\n  \"b\": \"<2>\"\n}\n", string(data))
	assert.True(t, b.IsOwnWrite(data))
	assert.False(t, b.IsOwnWrite([]byte("{}")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	leftovers, err := filepath.Glob(path + ".tmp.*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestJSONBackendCorrupt(t *testing.T) {
	tests := map[string]string{
		"bad json":       "{",
		"array":          `["a", "b"]`,
		"non-string":     `{"a": 1}`,
		"nested object":  `{"a": {"b": "c"}}`,
		"top-level text": `"hello"`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			b, err := NewJSONBackend(path)
			require.NoError(t, err)

			_, err = b.Load()
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestJSONBackendEmptyObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	b, err := NewJSONBackend(path)
	require.NoError(t, err)

	loaded, err := b.Load()
	require.NoError(t, err)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open("json", filepath.Join(dir, "r.json"))
	require.NoError(t, err)
	assert.IsType(t, &JSONBackend{}, b)

	b, err = Open("sqlite", filepath.Join(dir, "r.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	b.Close()

	b, err = Open("memory", "")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", b.Path())

	_, err = Open("redis", "")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
