package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nousbase/nous/internal/embed"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/rerank"
)

func testClassDef(name string) *ClassDef {
	return &ClassDef{
		Class: name,
		Properties: []Property{
			{Name: "content"},
			{Name: "uri"},
		},
		Vectorizer: &VectorizerConfig{Model: "static", Field: "content"},
		Reranker:   &RerankerConfig{Model: "noop", Field: "content"},
	}
}

func newTestStore(t *testing.T, dataDir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		DataDir:  dataDir,
		Embedder: embed.NewStaticEmbedder(),
		Reranker: &rerank.NoOp{},
		Logger:   slog.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// flakyEmbedder fails the first n EmbedBatch calls with a transient error,
// then behaves like the static embedder.
type flakyEmbedder struct {
	embed.Embedder
	failures int
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, nouserr.New(nouserr.ErrCodeEmbedUnavailable, "embedding service unavailable", nil)
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

func TestStore_ClassLifecycle(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	exists, err := s.ClassExists(ctx, "Docs")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	exists, err = s.ClassExists(ctx, "Docs")
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.CreateClass(ctx, testClassDef("Docs"))
	assert.ErrorIs(t, err, ErrClassExists)

	def, err := s.GetClass(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, "Docs", def.Class)
	require.NotNil(t, def.Vectorizer)
	assert.Equal(t, "content", def.Vectorizer.Field)

	require.NoError(t, s.DropClass(ctx, "Docs"))
	_, err = s.GetClass(ctx, "Docs")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestStore_BatchAndGet(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	batch := s.NewBatch(DefaultBatchConfig())
	id, err := batch.AddObject(ctx, "Docs", map[string]string{
		"content": "the quick brown fox jumps over the lazy dog",
		"uri":     "https://example.com/fox",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, batch.Flush(ctx))

	obj, err := s.GetObject(ctx, "Docs", id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/fox", obj.Properties["uri"])
	assert.False(t, obj.CreatedAt.IsZero())
}

func TestStore_FlushRetriesAfterTransientEmbedFailure(t *testing.T) {
	embedder := &flakyEmbedder{Embedder: embed.NewStaticEmbedder(), failures: 1}
	s, err := Open(context.Background(), Config{
		Embedder: embedder,
		Reranker: &rerank.NoOp{},
		Logger:   slog.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	// The first attempt commits the catalog rows and then fails embedding.
	// The shard retry must not trip over the rows it already wrote.
	batch := s.NewBatch(DefaultBatchConfig())
	id, err := batch.AddObject(ctx, "Docs", map[string]string{"content": "retried content", "uri": "r"})
	require.NoError(t, err)
	require.NoError(t, batch.Flush(ctx))
	assert.Zero(t, embedder.failures)

	obj, err := s.GetObject(ctx, "Docs", id)
	require.NoError(t, err)
	assert.Equal(t, "retried content", obj.Properties["content"])

	resp, err := s.Hybrid(ctx, "Docs", "retried content", HybridParams{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, id, resp.Hits[0].ID)
}

func TestStore_BatchReferences(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	source := &ClassDef{
		Class:      "Sources",
		Properties: []Property{{Name: "uri"}, {Name: "title"}},
		References: []ReferenceDef{{Name: "chunk_refs", Target: "Chunks", Multi: true}},
	}
	require.NoError(t, s.CreateClass(ctx, source))
	require.NoError(t, s.CreateClass(ctx, testClassDef("Chunks")))

	batch := s.NewBatch(DefaultBatchConfig())
	srcID, err := batch.AddObject(ctx, "Sources", map[string]string{
		"uri": "https://example.com", "title": "Example",
	})
	require.NoError(t, err)

	var chunkIDs []string
	for _, content := range []string{"first chunk", "second chunk", "third chunk"} {
		cid, err := batch.AddObject(ctx, "Chunks", map[string]string{"content": content})
		require.NoError(t, err)
		require.NoError(t, batch.AddReference(ctx, "Sources", srcID, "chunk_refs", cid))
		chunkIDs = append(chunkIDs, cid)
	}
	require.NoError(t, batch.Flush(ctx))

	obj, err := s.GetObject(ctx, "Sources", srcID, "chunk_refs")
	require.NoError(t, err)
	require.Len(t, obj.Refs["chunk_refs"], 3)

	got := make(map[string]bool)
	for _, ref := range obj.Refs["chunk_refs"] {
		got[ref.ID] = true
		assert.Equal(t, "Chunks", ref.Class)
	}
	for _, cid := range chunkIDs {
		assert.True(t, got[cid])
	}
}

func TestStore_BatchUnknownReferenceProperty(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	batch := s.NewBatch(DefaultBatchConfig())
	id, err := batch.AddObject(ctx, "Docs", map[string]string{"content": "x"})
	require.NoError(t, err)

	err = batch.AddReference(ctx, "Docs", id, "nope", "other")
	assert.Error(t, err)
}

func TestStore_Hybrid(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	batch := s.NewBatch(DefaultBatchConfig())
	docs := map[string]string{
		"golang": "Go is a statically typed compiled programming language",
		"cook":   "Slow roasted tomatoes make a rich pasta sauce",
		"hike":   "Alpine trails above the valley offer long day hikes",
	}
	ids := make(map[string]string)
	for key, content := range docs {
		id, err := batch.AddObject(ctx, "Docs", map[string]string{"content": content, "uri": key})
		require.NoError(t, err)
		ids[key] = id
	}
	require.NoError(t, batch.Flush(ctx))

	resp, err := s.Hybrid(ctx, "Docs", "compiled programming language", HybridParams{
		Alpha:  0.75,
		Fusion: FusionRelativeScore,
		Limit:  10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, ids["golang"], resp.Hits[0].ID)
	assert.True(t, resp.Hits[0].Scores.Reranked)
	assert.Equal(t, "Docs", resp.Class)
}

func TestStore_HybridUnknownClass(t *testing.T) {
	s := newTestStore(t, "")

	_, err := s.Hybrid(context.Background(), "Nope", "query", HybridParams{})
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestStore_DeleteObjects(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	batch := s.NewBatch(DefaultBatchConfig())
	id, err := batch.AddObject(ctx, "Docs", map[string]string{"content": "deleted soon", "uri": "x"})
	require.NoError(t, err)
	require.NoError(t, batch.Flush(ctx))

	n, err := s.DeleteObjects(ctx, "Docs", []string{id, "missing-id"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetObject(ctx, "Docs", id)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	resp, err := s.Hybrid(ctx, "Docs", "deleted soon", HybridParams{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)

	// Single-object delete reports a missing id.
	err = s.DeleteObject(ctx, "Docs", id)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestStore_ListObjectsNewestFirst(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))

	for _, uri := range []string{"a", "b", "c"} {
		batch := s.NewBatch(DefaultBatchConfig())
		_, err := batch.AddObject(ctx, "Docs", map[string]string{"content": "page " + uri, "uri": uri})
		require.NoError(t, err)
		require.NoError(t, batch.Flush(ctx))
	}

	objs, err := s.ListObjects(ctx, "Docs", 2)
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	_, err = s.ListObjects(ctx, "Missing", 10)
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestStore_VectorsRebuiltOnReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, dir)
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))
	batch := s.NewBatch(DefaultBatchConfig())
	_, err := batch.AddObject(ctx, "Docs", map[string]string{
		"content": "persistent vectors survive restarts", "uri": "p",
	})
	require.NoError(t, err)
	require.NoError(t, batch.Flush(ctx))
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir)
	assert.Equal(t, 1, reopened.vectors.Count("Docs"))

	resp, err := reopened.Hybrid(ctx, "Docs", "persistent vectors", HybridParams{Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Hits)
}

// narrowEmbedder reports a different dimensionality than the vectors it
// produced, simulating a model swap under an existing data dir.
type narrowEmbedder struct {
	embed.Embedder
}

func (n *narrowEmbedder) Dimensions() int {
	return n.Embedder.Dimensions() / 2
}

func TestStore_ReopenWithMismatchedEmbedderIsFatal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, dir)
	require.NoError(t, s.CreateClass(ctx, testClassDef("Docs")))
	batch := s.NewBatch(DefaultBatchConfig())
	_, err := batch.AddObject(ctx, "Docs", map[string]string{"content": "old model vectors", "uri": "m"})
	require.NoError(t, err)
	require.NoError(t, batch.Flush(ctx))
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{
		DataDir:  dir,
		Embedder: &narrowEmbedder{Embedder: embed.NewStaticEmbedder()},
		Logger:   slog.Default(),
	})
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeCorruptIndex, nouserr.GetCode(err))
	assert.True(t, nouserr.IsFatal(err))
}

func TestStore_DataDirLock(t *testing.T) {
	dir := t.TempDir()
	_ = newTestStore(t, dir)

	_, err := Open(context.Background(), Config{
		DataDir:  dir,
		Embedder: embed.NewStaticEmbedder(),
	})
	require.Error(t, err)
}
