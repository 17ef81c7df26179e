package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Schema for the SQLite rule store. The meta row is written by the first
// Save so an empty, never-saved database reads as missing storage.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rules (
    "trigger"    TEXT PRIMARY KEY,
    replacement  TEXT NOT NULL,
    updated_ns   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`

// SQLiteBackend stores rules in a SQLite database.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLiteBackend opens or creates the database at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("rules: sqlite backend needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), permRulesDir); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Path implements Backend.
func (b *SQLiteBackend) Path() string { return b.path }

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load() (map[string]string, error) {
	var savedAt string
	err := b.db.QueryRow(`SELECT value FROM meta WHERE key = 'saved_at'`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError("read meta", err)
	}

	rows, err := b.db.Query(`SELECT "trigger", replacement FROM rules`)
	if err != nil {
		return nil, classifySQLiteError("query rules", err)
	}
	defer rows.Close()

	rules := make(map[string]string)
	for rows.Next() {
		var trigger, replacement string
		if err := rows.Scan(&trigger, &replacement); err != nil {
			return nil, fmt.Errorf("%w: scan rule: %v", ErrCorrupt, err)
		}
		rules[trigger] = replacement
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError("iterate rules", err)
	}
	return rules, nil
}

// classifySQLiteError marks only a damaged database file as ErrCorrupt.
// Busy, I/O and closed-handle errors stay plain so Load does not reseed
// over rules that are merely unreachable right now.
func classifySQLiteError(op string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrCorrupt || serr.Code == sqlite3.ErrNotADB) {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Save implements Backend. The table contents are replaced in one transaction.
func (b *SQLiteBackend) Save(rules map[string]string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO rules ("trigger", replacement, updated_ns) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for trigger, replacement := range rules {
		if _, err := stmt.Exec(trigger, replacement, now); err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
