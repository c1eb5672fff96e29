package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// SQLiteBM25Index implements BM25Index on SQLite FTS5. All classes share one
// virtual table; the class column scopes every query so tenants stay
// isolated. This is the default backend: it lives in the same database file
// family as the catalog and behaves under the same single-writer pool.
type SQLiteBM25Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// wordRegex extracts alphanumeric tokens, keeping FTS5 MATCH input clean.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewSQLiteBM25Index creates the FTS5 keyword index inside an existing
// database handle.
func NewSQLiteBM25Index(db *sql.DB) (*SQLiteBM25Index, error) {
	schema := `
	-- FTS5 virtual table for full-text search with BM25 scoring.
	-- doc_id and class are UNINDEXED (stored, filterable, not tokenized).
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		doc_id UNINDEXED,
		class UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize FTS5 schema: %w", err)
	}
	return &SQLiteBM25Index{db: db}, nil
}

// Index adds documents to a class's keyword index.
// If a document ID already exists, it is updated (delete + insert); FTS5
// virtual tables don't support REPLACE.
func (s *SQLiteBM25Index) Index(ctx context.Context, class string, docs []*BM25Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_chunks WHERE doc_id = ?`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = deleteStmt.Close() }()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_chunks (doc_id, class, content) VALUES (?, ?, ?)`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = insertStmt.Close() }()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return classifyStoreError(err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, class, doc.Content); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

// Search returns documents of a class matching query, scored by BM25.
// Tokens are OR-combined: a passage matching any query word is a candidate,
// ranking sorts out relevance.
func (s *SQLiteBM25Index) Search(ctx context.Context, class, query string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	tokens := wordRegex.FindAllString(query, -1)
	if len(tokens) == 0 {
		return []*BM25Result{}, nil
	}
	for i, tok := range tokens {
		tokens[i] = `"` + tok + `"`
	}
	match := strings.Join(tokens, " OR ")

	// FTS5 bm25() returns negative values where lower = better match.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE fts_chunks MATCH ? AND class = ?
		ORDER BY score
		LIMIT ?`,
		match, class, limit)
	if err != nil {
		// FTS5 errors on malformed match queries; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []*BM25Result{}, nil
		}
		return nil, classifyStoreError(err)
	}
	defer func() { _ = rows.Close() }()

	var results []*BM25Result
	for rows.Next() {
		var docID string
		var score float64
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, classifyStoreError(err)
		}
		// Negate: higher positive = better match, consistent with Bleve.
		results = append(results, &BM25Result{DocID: docID, Score: -score})
	}
	return results, rows.Err()
}

// Delete removes documents from a class's index.
func (s *SQLiteBM25Index) Delete(ctx context.Context, class string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_chunks WHERE doc_id = ? AND class = ?`)
	if err != nil {
		return classifyStoreError(err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range docIDs {
		if _, err := stmt.ExecContext(ctx, id, class); err != nil {
			return classifyStoreError(err)
		}
	}
	return tx.Commit()
}

// DeleteClass removes every row of a class from the keyword index.
func (s *SQLiteBM25Index) DeleteClass(ctx context.Context, class string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM fts_chunks WHERE class = ?`, class)
	return classifyStoreError(err)
}

// Close marks the index closed. The shared database handle is owned by the
// catalog and closed there.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
