// Package index turns saved pages into stored objects: one source object
// per page and one vectorized chunk object per passage, linked both ways.
package index

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nousbase/nous/internal/chunk"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/schema"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

// Page is the raw input to indexing.
type Page struct {
	URI     string
	Title   string
	Content string
}

// Indexer writes pages into a user's class pair.
type Indexer struct {
	store    *store.Store
	splitter *chunk.Splitter
	batchCfg store.BatchConfig
	logger   *slog.Logger
}

func NewIndexer(s *store.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    s,
		splitter: chunk.NewSplitter(),
		batchCfg: store.DefaultBatchConfig(),
		logger:   logger,
	}
}

// NormalizeURI strips the fragment so the same page saved from different
// anchors dedupes to one document. Unparseable URIs pass through unchanged.
func NormalizeURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	u.Fragment = ""
	return u.String()
}

// Index stores one page. The title is indexed as the leading chunk so title
// words are searchable alongside the body. Everything lands in a single
// batch flush; a failed flush surfaces as an indexing failure with the
// page's URI attached.
func (ix *Indexer) Index(ctx context.Context, ns tenant.Namespace, page Page) (string, error) {
	start := time.Now()
	uri := NormalizeURI(page.URI)

	chunks := []string{page.Title}
	chunks = append(chunks, ix.splitter.Split(page.Content)...)

	batch := ix.store.NewBatch(ix.batchCfg)
	sourceID, err := batch.AddObject(ctx, ns.SourceClass(), map[string]string{
		schema.PropURI:   uri,
		schema.PropTitle: page.Title,
	})
	if err != nil {
		return "", ix.fail(ns, uri, err)
	}

	for _, text := range chunks {
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunkID, err := batch.AddObject(ctx, ns.ChunkClass(), map[string]string{
			schema.PropContent: text,
		})
		if err != nil {
			return "", ix.fail(ns, uri, err)
		}
		if err := batch.AddReference(ctx, ns.SourceClass(), sourceID, schema.RefChunks, chunkID); err != nil {
			return "", ix.fail(ns, uri, err)
		}
		if err := batch.AddReference(ctx, ns.ChunkClass(), chunkID, schema.RefSource, sourceID); err != nil {
			return "", ix.fail(ns, uri, err)
		}
	}

	if err := batch.Flush(ctx); err != nil {
		return "", ix.fail(ns, uri, err)
	}

	ix.logger.Info("page_indexed",
		slog.String("user_id", ns.ID()),
		slog.String("uri", uri),
		slog.Int("chunks", len(chunks)),
		slog.Duration("took", time.Since(start)))
	return sourceID, nil
}

func (ix *Indexer) fail(ns tenant.Namespace, uri string, err error) error {
	ix.logger.Error("index_failed",
		slog.String("user_id", ns.ID()),
		slog.String("uri", uri),
		slog.String("error", err.Error()))
	return nouserr.IndexFailed(err).WithDetail("uri", uri).WithDetail("user_id", ns.ID())
}
