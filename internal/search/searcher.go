// Package search answers user queries over their saved pages and maps raw
// retrieval errors onto the small set of client-facing conditions.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/schema"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

const (
	// DefaultAlpha weights vector similarity at 0.75 against keyword score.
	DefaultAlpha = 0.75

	// DefaultAutocut truncates fused results at the second steep score drop.
	DefaultAutocut = 2

	// RerankThreshold drops reranked hits scoring below it.
	RerankThreshold = 0.15
)

// Result is one chunk answer, joined with its source page.
type Result struct {
	Index   int     `json:"index"`
	Content string  `json:"content"`
	URI     string  `json:"uri"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

// SavedDocument is one entry in a user's saved list.
type SavedDocument struct {
	ID    string `json:"id"`
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Searcher runs hybrid queries against a user's chunk class.
type Searcher struct {
	store  *store.Store
	logger *slog.Logger
}

func NewSearcher(s *store.Store, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{store: s, logger: logger}
}

// Search retrieves chunks for a query. The raw hybrid response is returned
// alongside the client results so callers can audit what retrieval produced.
//
// A user with no saved pages gets the not-indexed condition, not a search
// failure. A hit whose source reference is missing means the write side
// broke an invariant; that surfaces as malformed content.
func (s *Searcher) Search(ctx context.Context, ns tenant.Namespace, query string) (*store.HybridResponse, []Result, error) {
	start := time.Now()

	resp, err := s.store.Hybrid(ctx, ns.ChunkClass(), query, store.HybridParams{
		Alpha:    DefaultAlpha,
		Fusion:   store.FusionRelativeScore,
		Autocut:  DefaultAutocut,
		RefProps: []string{schema.RefSource},
	})
	if err != nil {
		if errors.Is(err, store.ErrClassNotFound) {
			return nil, nil, nouserr.NotIndexedYet(err).WithDetail("user_id", ns.ID())
		}
		s.logger.Error("search_failed",
			slog.String("user_id", ns.ID()),
			slog.String("error", err.Error()))
		return nil, nil, nouserr.SearchFailed(err).WithDetail("user_id", ns.ID())
	}

	results, err := s.buildResults(ns, resp.Hits)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("search_completed",
		slog.String("user_id", ns.ID()),
		slog.Int("hits", len(resp.Hits)),
		slog.Int("results", len(results)),
		slog.Duration("took", time.Since(start)))
	return resp, results, nil
}

// buildResults joins hits to their sources, filters weak reranked hits, and
// dedupes pages, keeping each page's best-ranked chunk.
func (s *Searcher) buildResults(ns tenant.Namespace, hits []*store.Hit) ([]Result, error) {
	results := make([]Result, 0, len(hits))
	seen := make(map[string]bool, len(hits))

	for _, hit := range hits {
		if hit.Scores.Reranked && hit.Scores.Rerank < RerankThreshold {
			continue
		}

		sources := hit.Refs[schema.RefSource]
		if len(sources) == 0 {
			s.logger.Error("chunk_missing_source",
				slog.String("user_id", ns.ID()),
				slog.String("chunk_id", hit.ID))
			return nil, nouserr.MalformedContent(
				fmt.Errorf("chunk %s has no source reference", hit.ID)).
				WithDetail("user_id", ns.ID())
		}
		source := sources[0]
		uri := source.Properties[schema.PropURI]
		title := source.Properties[schema.PropTitle]

		key := uri + "\x00" + title
		if seen[key] {
			continue
		}
		seen[key] = true

		score := hit.Scores.Fused
		if hit.Scores.Reranked {
			score = hit.Scores.Rerank
		}
		results = append(results, Result{
			Index:   len(results),
			Content: hit.Properties[schema.PropContent],
			URI:     uri,
			Title:   title,
			Score:   score,
		})
	}
	return results, nil
}

// ListSaved returns the user's saved pages, newest first.
func (s *Searcher) ListSaved(ctx context.Context, ns tenant.Namespace, limit int) ([]SavedDocument, error) {
	objs, err := s.store.ListObjects(ctx, ns.SourceClass(), limit)
	if err != nil {
		if errors.Is(err, store.ErrClassNotFound) {
			return nil, nouserr.NotIndexedYet(err).WithDetail("user_id", ns.ID())
		}
		return nil, nouserr.SearchFailed(err).WithDetail("user_id", ns.ID())
	}

	docs := make([]SavedDocument, len(objs))
	for i, obj := range objs {
		docs[i] = SavedDocument{
			ID:    obj.ID,
			URI:   obj.Properties[schema.PropURI],
			Title: obj.Properties[schema.PropTitle],
		}
	}
	return docs, nil
}
