// Package rules stores trigger/replacement pairs and finds the trigger that
// ends the recently typed text.
//
// A Store keeps the authoritative rule set in memory and persists every
// mutation through a Backend. Three backends exist: the JSON rule file
// (default, the format users edit by hand), SQLite, and memory.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// The rule installed when storage is missing or unreadable.
const (
	DefaultTrigger     = ";wkaeupon"
	DefaultReplacement = "sudo pmset disablesleep 1"
)

var (
	// ErrNotFound means the backend has never been written.
	ErrNotFound = errors.New("rules: storage not found")

	// ErrCorrupt means stored data could not be decoded or failed validation.
	ErrCorrupt = errors.New("rules: storage corrupt")

	// ErrEmptyTrigger is returned by Add for a blank trigger.
	ErrEmptyTrigger = errors.New("rules: trigger is empty")

	// ErrEmptyReplacement is returned by Add for a blank replacement.
	ErrEmptyReplacement = errors.New("rules: replacement is empty")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("rules: unknown backend")
)

// Rule maps a trigger to its replacement.
type Rule struct {
	Trigger     string `json:"trigger" yaml:"trigger"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// Length returns the trigger length in user-perceived characters, which is
// the number of backspaces needed to erase it.
func (r Rule) Length() int {
	return uniseg.GraphemeClusterCount(r.Trigger)
}

// Backend persists a complete rule set.
type Backend interface {
	// Load returns the stored rules, ErrNotFound when nothing has been
	// stored yet, or an error wrapping ErrCorrupt.
	Load() (map[string]string, error)

	// Save replaces the stored rules with rules.
	Save(rules map[string]string) error

	// Close releases resources held by the backend.
	Close() error

	// Path describes where the rules live.
	Path() string
}

// Quarantiner is implemented by backends that can move unreadable storage
// aside before it is replaced. Quarantine returns the new location.
type Quarantiner interface {
	Quarantine() (string, error)
}

// Open returns the backend named kind ("json", "sqlite" or "memory") rooted at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", "json":
		return NewJSONBackend(path)
	case "sqlite":
		return OpenSQLiteBackend(path)
	case "memory":
		return NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

// NormalizeTrigger trims surrounding whitespace and converts to NFC.
func NormalizeTrigger(trigger string) string {
	return norm.NFC.String(strings.TrimSpace(trigger))
}

// NormalizeReplacement converts to NFC without trimming; leading and
// trailing whitespace in an expansion is intentional.
func NormalizeReplacement(replacement string) string {
	return norm.NFC.String(replacement)
}

// validate normalizes a pair and rejects blank fields.
func validate(trigger, replacement string) (string, string, error) {
	trigger = NormalizeTrigger(trigger)
	if trigger == "" {
		return "", "", ErrEmptyTrigger
	}
	if strings.TrimSpace(replacement) == "" {
		return "", "", ErrEmptyReplacement
	}
	return trigger, NormalizeReplacement(replacement), nil
}
