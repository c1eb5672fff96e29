// Package dedup tracks which URLs each user has already saved. Reservations
// are atomic, so two concurrent saves of the same URL resolve to exactly one
// winner before any indexing work starts.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Tracker records saved (user, url) pairs in SQLite.
type Tracker struct {
	db *sql.DB
}

// Open creates the tracker database under dataDir. An empty dataDir keeps
// the tracker in memory.
func Open(dataDir string) (*Tracker, error) {
	path := ":memory:"
	if dataDir != "" {
		path = filepath.Join(dataDir, "dedup.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup db: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS saved_urls (
		user_id TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (user_id, url)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize dedup schema: %w", err)
	}
	return &Tracker{db: db}, nil
}

// Reserve claims a (user, url) pair. Returns true if this caller won the
// claim, false if the pair was already recorded. INSERT OR IGNORE makes the
// check-and-claim a single atomic statement.
func (t *Tracker) Reserve(ctx context.Context, userID, url string) (bool, error) {
	res, err := t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO saved_urls (user_id, url) VALUES (?, ?)`,
		userID, url)
	if err != nil {
		return false, fmt.Errorf("failed to reserve url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops a reservation, letting the URL be saved again. Called when
// indexing fails after a successful Reserve.
func (t *Tracker) Release(ctx context.Context, userID, url string) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM saved_urls WHERE user_id = ? AND url = ?`, userID, url)
	if err != nil {
		return fmt.Errorf("failed to release url: %w", err)
	}
	return nil
}

// Seen reports whether the user already saved the URL.
func (t *Tracker) Seen(ctx context.Context, userID, url string) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx,
		`SELECT 1 FROM saved_urls WHERE user_id = ? AND url = ?`,
		userID, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteUser removes every reservation belonging to a user.
func (t *Tracker) DeleteUser(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM saved_urls WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user urls: %w", err)
	}
	return nil
}

// Close closes the tracker database.
func (t *Tracker) Close() error {
	return t.db.Close()
}
