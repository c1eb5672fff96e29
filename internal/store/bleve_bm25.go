package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// bleveChunkDoc is the shape Bleve indexes for each chunk.
type bleveChunkDoc struct {
	Content string `json:"content"`
}

// BleveBM25Index implements BM25Index on Bleve. Each class gets its own
// index directory under the root path, opened lazily on first use. An empty
// root path keeps all indexes in memory, which the tests rely on.
type BleveBM25Index struct {
	mu      sync.Mutex
	root    string
	indexes map[string]bleve.Index
	closed  bool
}

var _ BM25Index = (*BleveBM25Index)(nil)

// NewBleveBM25Index creates a Bleve-backed keyword index rooted at path.
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create bleve root %s: %w", path, err)
		}
	}
	return &BleveBM25Index{
		root:    path,
		indexes: make(map[string]bleve.Index),
	}, nil
}

// classIndex opens or creates the per-class index. Callers hold b.mu.
func (b *BleveBM25Index) classIndex(class string, create bool) (bleve.Index, error) {
	if idx, ok := b.indexes[class]; ok {
		return idx, nil
	}

	if b.root == "" {
		if !create {
			return nil, nil
		}
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		b.indexes[class] = idx
		return idx, nil
	}

	path := filepath.Join(b.root, class+".bleve")
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if !create {
			return nil, nil
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index for class %s: %w", class, err)
	}
	b.indexes[class] = idx
	return idx, nil
}

// Index adds documents to a class's keyword index.
func (b *BleveBM25Index) Index(ctx context.Context, class string, docs []*BM25Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	idx, err := b.classIndex(class, true)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveChunkDoc{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents of a class matching query, scored by BM25.
func (b *BleveBM25Index) Search(ctx context.Context, class, query string, limit int) ([]*BM25Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(query) == "" {
		return []*BM25Result{}, nil
	}

	idx, err := b.classIndex(class, false)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		// Class never indexed anything.
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{DocID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Delete removes documents from a class's index.
func (b *BleveBM25Index) Delete(ctx context.Context, class string, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	idx, err := b.classIndex(class, false)
	if err != nil {
		return err
	}
	if idx == nil {
		return nil
	}

	batch := idx.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// DeleteClass drops a class's index entirely, removing its directory when
// the index is on disk.
func (b *BleveBM25Index) DeleteClass(ctx context.Context, class string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	if idx, ok := b.indexes[class]; ok {
		if err := idx.Close(); err != nil {
			return fmt.Errorf("failed to close index for class %s: %w", class, err)
		}
		delete(b.indexes, class)
	}
	if b.root != "" {
		path := filepath.Join(b.root, class+".bleve")
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove index for class %s: %w", class, err)
		}
	}
	return nil
}

// Close closes every open class index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for class, idx := range b.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close index for class %s: %w", class, err)
		}
	}
	b.indexes = nil
	return firstErr
}
