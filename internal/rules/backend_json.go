package rules

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/rules.schema.json
var rulesSchemaJSON []byte

const rulesSchemaURL = "textreplacer://schema/rules.schema.json"

// File permission constants.
const (
	permRulesFile os.FileMode = 0o600
	permRulesDir  os.FileMode = 0o700
)

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func rulesSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(rulesSchemaURL, bytes.NewReader(rulesSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(rulesSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// JSONBackend stores rules as a pretty-printed JSON object. Writes go to a
// temporary file that is synced and renamed over the rule file, under an
// advisory lock on a sibling ".lock" file shared with other processes.
type JSONBackend struct {
	path   string
	schema *jsonschema.Schema

	mu       sync.Mutex
	lastHash [sha256.Size]byte
}

// NewJSONBackend returns a backend for the rule file at path.
func NewJSONBackend(path string) (*JSONBackend, error) {
	if path == "" {
		return nil, errors.New("rules: json backend needs a path")
	}
	schema, err := rulesSchema()
	if err != nil {
		return nil, err
	}
	return &JSONBackend{path: path, schema: schema}, nil
}

// Path implements Backend.
func (b *JSONBackend) Path() string { return b.path }

// Close implements Backend.
func (b *JSONBackend) Close() error { return nil }

// Load implements Backend.
func (b *JSONBackend) Load() (map[string]string, error) {
	unlock, err := lockPath(b.lockPath(), false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return b.Decode(data)
}

// Decode validates data against the rule file schema and decodes it.
func (b *JSONBackend) Decode(data []byte) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := b.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var rules map[string]string
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rules == nil {
		rules = map[string]string{}
	}
	return rules, nil
}

// Save implements Backend.
func (b *JSONBackend) Save(rules map[string]string) error {
	data, err := EncodeJSON(rules)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), permRulesDir); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	unlock, err := lockPath(b.lockPath(), true)
	if err != nil {
		return err
	}
	defer unlock()

	// Recorded before the rename so a watcher never sees our own write as foreign.
	b.mu.Lock()
	prev := b.lastHash
	b.lastHash = sha256.Sum256(data)
	b.mu.Unlock()

	if err := writeAtomic(b.path, data); err != nil {
		b.mu.Lock()
		b.lastHash = prev
		b.mu.Unlock()
		return err
	}
	return nil
}

// Quarantine implements Quarantiner: it renames the rule file to
// "<path>.corrupt-<timestamp>" so a hand edit gone wrong can be recovered.
func (b *JSONBackend) Quarantine() (string, error) {
	unlock, err := lockPath(b.lockPath(), true)
	if err != nil {
		return "", err
	}
	defer unlock()

	dest := b.path + ".corrupt-" + time.Now().Format("20060102-150405")
	if err := os.Rename(b.path, dest); err != nil {
		return "", fmt.Errorf("move corrupt rule file: %w", err)
	}
	return dest, nil
}

// IsOwnWrite reports whether data is exactly what this backend last saved.
func (b *JSONBackend) IsOwnWrite(data []byte) bool {
	sum := sha256.Sum256(data)
	b.mu.Lock()
	defer b.mu.Unlock()
	return sum == b.lastHash
}

func (b *JSONBackend) lockPath() string {
	return b.path + ".lock"
}

// EncodeJSON renders rules the way the rule file stores them: an object
// with sorted keys, two-space indentation, and no HTML escaping.
func EncodeJSON(rules map[string]string) ([]byte, error) {
	if rules == nil {
		rules = map[string]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rules); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, permRulesFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename rule file: %w", err)
	}
	return nil
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
