package search

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nousbase/nous/internal/embed"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/index"
	"github.com/nousbase/nous/internal/rerank"
	"github.com/nousbase/nous/internal/schema"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

func newTestEnv(t *testing.T) (*Searcher, *index.Indexer, tenant.Namespace) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Embedder: embed.NewStaticEmbedder(),
		Reranker: &rerank.NoOp{},
		Logger:   slog.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ns := tenant.NewNamespace("searcher")
	require.NoError(t, schema.NewManager(s, slog.Default()).Ensure(context.Background(), ns))
	return NewSearcher(s, slog.Default()), index.NewIndexer(s, slog.Default()), ns
}

func TestSearcher_NothingSavedIsNotIndexedYet(t *testing.T) {
	searcher, _, _ := newTestEnv(t)
	ghost := tenant.NewNamespace("ghost")

	_, _, err := searcher.Search(context.Background(), ghost, "anything")
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeNotIndexedYet, nouserr.GetCode(err))

	_, err = searcher.ListSaved(context.Background(), ghost, 10)
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeNotIndexedYet, nouserr.GetCode(err))
}

func TestSearcher_ResultsJoinSources(t *testing.T) {
	searcher, ix, ns := newTestEnv(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, ns, index.Page{
		URI:     "https://example.com/go",
		Title:   "Go Guide",
		Content: "Goroutines are lightweight threads managed by the runtime.",
	})
	require.NoError(t, err)

	resp, results, err := searcher.Search(ctx, ns, "goroutines lightweight threads")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.NotEmpty(t, results)

	first := results[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "https://example.com/go", first.URI)
	assert.Equal(t, "Go Guide", first.Title)
	assert.NotEmpty(t, first.Content)
	assert.Greater(t, first.Score, 0.0)
}

func TestSearcher_DedupesChunksFromSamePage(t *testing.T) {
	searcher, ix, ns := newTestEnv(t)
	ctx := context.Background()

	_, err := ix.Index(ctx, ns, index.Page{
		URI:   "https://example.com/long",
		Title: "Long Page",
		Content: "Kubernetes schedules containers onto nodes.\n\n" +
			"Kubernetes controllers reconcile desired state.\n\n" +
			"Kubernetes services route traffic to pods.",
	})
	require.NoError(t, err)

	_, results, err := searcher.Search(ctx, ns, "kubernetes containers")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	pages := make(map[string]int)
	for _, r := range results {
		pages[r.URI+r.Title]++
	}
	for key, n := range pages {
		assert.Equal(t, 1, n, "page %s appeared more than once", key)
	}
}

func TestSearcher_SequentialIndices(t *testing.T) {
	searcher, ix, ns := newTestEnv(t)
	ctx := context.Background()

	for _, p := range []index.Page{
		{URI: "https://a.example.com", Title: "Alpha", Content: "shared topic words one"},
		{URI: "https://b.example.com", Title: "Beta", Content: "shared topic words two"},
	} {
		_, err := ix.Index(ctx, ns, p)
		require.NoError(t, err)
	}

	_, results, err := searcher.Search(ctx, ns, "shared topic words")
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func sourcedHit(id, content, uri, title string, rerankScore float64) *store.Hit {
	return &store.Hit{
		ID:         id,
		Properties: map[string]string{schema.PropContent: content},
		Refs: map[string][]store.RefTarget{
			schema.RefSource: {{
				ID: "src-" + id,
				Properties: map[string]string{
					schema.PropURI:   uri,
					schema.PropTitle: title,
				},
			}},
		},
		Scores: store.HitScores{Fused: rerankScore, Rerank: rerankScore, Reranked: true},
	}
}

func TestSearcher_WeakRerankedHitsFiltered(t *testing.T) {
	searcher, _, ns := newTestEnv(t)

	hits := []*store.Hit{
		sourcedHit("strong", "kept chunk", "https://a.example.com", "A", 0.9),
		sourcedHit("weak", "dropped chunk", "https://b.example.com", "B", RerankThreshold-0.01),
	}

	results, err := searcher.buildResults(ns, hits)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept chunk", results[0].Content)
	assert.Equal(t, "https://a.example.com", results[0].URI)
}

func TestSearcher_ChunkWithoutSourceIsMalformed(t *testing.T) {
	searcher, _, ns := newTestEnv(t)

	orphan := &store.Hit{
		ID:         "orphan",
		Properties: map[string]string{schema.PropContent: "chunk text"},
		Scores:     store.HitScores{Fused: 0.8, Rerank: 0.8, Reranked: true},
	}

	_, err := searcher.buildResults(ns, []*store.Hit{orphan})
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeMalformedContent, nouserr.GetCode(err))
}

func TestSearcher_ListSaved(t *testing.T) {
	searcher, ix, ns := newTestEnv(t)
	ctx := context.Background()

	for _, p := range []index.Page{
		{URI: "https://a.example.com", Title: "Alpha", Content: "first page"},
		{URI: "https://b.example.com", Title: "Beta", Content: "second page"},
	} {
		_, err := ix.Index(ctx, ns, p)
		require.NoError(t, err)
	}

	docs, err := searcher.ListSaved(ctx, ns, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.NotEmpty(t, d.ID)
		assert.NotEmpty(t, d.URI)
		assert.NotEmpty(t, d.Title)
	}
}
