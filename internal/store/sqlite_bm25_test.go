package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFTS(t *testing.T) *SQLiteBM25Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	idx, err := NewSQLiteBM25Index(db)
	require.NoError(t, err)
	return idx
}

func TestSQLiteBM25_IndexAndSearch(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	docs := []*BM25Document{
		{ID: "1", Content: "go is a compiled programming language"},
		{ID: "2", Content: "python is an interpreted language"},
		{ID: "3", Content: "the cat sat on the mat"},
	}
	require.NoError(t, idx.Index(ctx, "Docs", docs))

	results, err := idx.Search(ctx, "Docs", "compiled language", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "1", results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSQLiteBM25_ClassIsolation(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "A", []*BM25Document{{ID: "a1", Content: "shared keyword"}}))
	require.NoError(t, idx.Index(ctx, "B", []*BM25Document{{ID: "b1", Content: "shared keyword"}}))

	results, err := idx.Search(ctx, "A", "shared", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].DocID)
}

func TestSQLiteBM25_Reindex(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "Docs", []*BM25Document{{ID: "1", Content: "original text"}}))
	require.NoError(t, idx.Index(ctx, "Docs", []*BM25Document{{ID: "1", Content: "replacement text"}}))

	results, err := idx.Search(ctx, "Docs", "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "Docs", "replacement", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSQLiteBM25_Delete(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "Docs", []*BM25Document{
		{ID: "1", Content: "keep me"},
		{ID: "2", Content: "remove me"},
	}))
	require.NoError(t, idx.Delete(ctx, "Docs", []string{"2"}))

	results, err := idx.Search(ctx, "Docs", "remove", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteBM25_DeleteClass(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "A", []*BM25Document{{ID: "a1", Content: "alpha text"}}))
	require.NoError(t, idx.Index(ctx, "B", []*BM25Document{{ID: "b1", Content: "alpha text"}}))
	require.NoError(t, idx.DeleteClass(ctx, "A"))

	results, err := idx.Search(ctx, "A", "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "B", "alpha", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSQLiteBM25_QuerySanitized(t *testing.T) {
	idx := newTestFTS(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "Docs", []*BM25Document{{ID: "1", Content: "hello world"}}))

	// Punctuation-heavy queries must not surface FTS5 syntax errors.
	results, err := idx.Search(ctx, "Docs", `"hello (world)" AND NOT -`, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	results, err = idx.Search(ctx, "Docs", "!!! ???", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
