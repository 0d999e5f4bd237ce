package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
    generation INTEGER PRIMARY KEY AUTOINCREMENT,
    written_at TEXT NOT NULL,
    body BLOB NOT NULL
);
`

// SQLiteSnapshotter keeps document generations as rows of an embedded
// SQLite database. Only the current and the previous generation survive a
// write.
type SQLiteSnapshotter struct {
	db *sql.DB
}

// NewSQLiteSnapshotter opens (or creates) the database at path.
func NewSQLiteSnapshotter(path string) (*SQLiteSnapshotter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the store already serializes writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSnapshotter{db: db}, nil
}

// Read returns the newest generation.
func (s *SQLiteSnapshotter) Read() ([]byte, error) {
	return s.readAt(0)
}

// ReadPrevious returns the generation before the newest one.
func (s *SQLiteSnapshotter) ReadPrevious() ([]byte, error) {
	return s.readAt(1)
}

func (s *SQLiteSnapshotter) readAt(offset int) ([]byte, error) {
	var body []byte
	err := s.db.QueryRow(`
		SELECT body FROM snapshot ORDER BY generation DESC LIMIT 1 OFFSET ?
	`, offset).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return body, nil
}

// Write inserts data as a new generation and prunes all but the two newest
// in the same transaction.
func (s *SQLiteSnapshotter) Write(data []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO snapshot (written_at, body) VALUES (?, ?)
	`, time.Now().UTC().Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM snapshot WHERE generation NOT IN (
			SELECT generation FROM snapshot ORDER BY generation DESC LIMIT 2
		)
	`); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return tx.Commit()
}

// Generations returns how many snapshots are currently retained.
func (s *SQLiteSnapshotter) Generations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshot`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSnapshotter) Close() error {
	return s.db.Close()
}
