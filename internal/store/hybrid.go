package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nousbase/nous/internal/embed"
)

// fusedHit carries per-source scores through fusion.
type fusedHit struct {
	id         string
	bm25Score  float64
	bm25Rank   int // 1-indexed, 0 if absent
	vecScore   float64
	vecRank    int
	fusedScore float64
}

// rrfConstant is the standard reciprocal rank fusion smoothing parameter.
const rrfConstant = 60

// Hybrid runs keyword and vector retrieval in parallel over one class and
// fuses the two ranked lists. When the class declares a reranker and the
// store has one configured, fused candidates are reordered by the reranker
// before the response is assembled.
func (s *Store) Hybrid(ctx context.Context, class, query string, params HybridParams) (*HybridResponse, error) {
	start := time.Now()

	def, err := s.catalog.getClass(ctx, class)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultHybridLimit
	}

	var (
		bm25Results []*BM25Result
		vecResults  []*VectorSearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bm25Results, err = s.bm25.Search(gctx, class, query, limit)
		return err
	})
	g.Go(func() error {
		qvec, err := s.embedder.Embed(gctx, embed.QueryPrefix+query)
		if err != nil {
			return err
		}
		vecResults, err = s.vectors.Search(gctx, class, qvec, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(bm25Results, vecResults, params.Alpha, params.Fusion)
	if params.Autocut > 0 {
		fused = autocut(fused, params.Autocut)
	}
	if len(fused) > limit {
		fused = fused[:limit]
	}

	hits, err := s.assembleHits(ctx, class, def, fused, query, params.RefProps)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("hybrid_search",
		slog.String("class", class),
		slog.Int("bm25_results", len(bm25Results)),
		slog.Int("vector_results", len(vecResults)),
		slog.Int("hits", len(hits)),
		slog.Duration("took", time.Since(start)))

	return &HybridResponse{
		Class: class,
		Query: query,
		Took:  time.Since(start),
		Hits:  hits,
	}, nil
}

// assembleHits fetches candidate objects, applies the class reranker, and
// resolves requested references.
func (s *Store) assembleHits(ctx context.Context, class string, def *ClassDef, fused []*fusedHit, query string, refProps []string) ([]*Hit, error) {
	if len(fused) == 0 {
		return []*Hit{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.id
	}
	objs, err := s.catalog.getObjects(ctx, class, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]*Hit, 0, len(fused))
	for _, f := range fused {
		obj, ok := objs[f.id]
		if !ok {
			// Index entry without a catalog row; skip rather than fail.
			continue
		}
		hits = append(hits, &Hit{
			ID:         obj.ID,
			Properties: obj.Properties,
			Refs:       obj.Refs,
			Score:      f.fusedScore,
			Scores: HitScores{
				BM25:   f.bm25Score,
				Vector: f.vecScore,
				Fused:  f.fusedScore,
			},
		})
	}

	if def.Reranker != nil && s.reranker != nil {
		if err := s.rerankHits(ctx, def, query, hits); err != nil {
			return nil, err
		}
	}

	if len(refProps) > 0 {
		hitObjs := make([]*Object, len(hits))
		for i, h := range hits {
			hitObjs[i] = &Object{ID: h.ID, Refs: h.Refs}
		}
		if err := s.resolveRefs(ctx, hitObjs, refProps); err != nil {
			return nil, err
		}
		for i, h := range hits {
			h.Refs = hitObjs[i].Refs
		}
	}

	return hits, nil
}

// rerankHits reorders hits by cross-encoder relevance over the class's
// configured rerank field.
func (s *Store) rerankHits(ctx context.Context, def *ClassDef, query string, hits []*Hit) error {
	if len(hits) == 0 {
		return nil
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Properties[def.Reranker.Field]
	}

	results, err := s.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		return fmt.Errorf("rerank failed: %w", err)
	}

	for _, r := range results {
		hits[r.Index].Scores.Rerank = r.Score
		hits[r.Index].Scores.Reranked = true
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Scores.Rerank > hits[j].Scores.Rerank
	})
	return nil
}

// fuse combines the two ranked lists. Relative-score fusion min-max
// normalizes each list and blends with alpha (vector weight); ranked fusion
// uses reciprocal ranks with the same weighting.
func fuse(bm25 []*BM25Result, vec []*VectorSearchResult, alpha float64, fusion FusionType) []*fusedHit {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*fusedHit{}
	}

	hits := make(map[string]*fusedHit, len(bm25)+len(vec))
	get := func(id string) *fusedHit {
		if h, ok := hits[id]; ok {
			return h
		}
		h := &fusedHit{id: id}
		hits[id] = h
		return h
	}

	for rank, r := range bm25 {
		h := get(r.DocID)
		h.bm25Score = r.Score
		h.bm25Rank = rank + 1
	}
	for rank, r := range vec {
		h := get(r.ID)
		h.vecScore = float64(r.Score)
		h.vecRank = rank + 1
	}

	switch fusion {
	case FusionRanked:
		for _, h := range hits {
			if h.bm25Rank > 0 {
				h.fusedScore += (1 - alpha) / float64(rrfConstant+h.bm25Rank)
			}
			if h.vecRank > 0 {
				h.fusedScore += alpha / float64(rrfConstant+h.vecRank)
			}
		}
	default:
		bm25Norm := minMaxByRank(bm25Scores(bm25))
		vecNorm := minMaxByRank(vecScores(vec))
		for _, h := range hits {
			if h.bm25Rank > 0 {
				h.fusedScore += (1 - alpha) * bm25Norm[h.bm25Rank-1]
			}
			if h.vecRank > 0 {
				h.fusedScore += alpha * vecNorm[h.vecRank-1]
			}
		}
	}

	out := make([]*fusedHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fusedScore != out[j].fusedScore {
			return out[i].fusedScore > out[j].fusedScore
		}
		// Deterministic tie-break.
		return out[i].id < out[j].id
	})
	return out
}

func bm25Scores(rs []*BM25Result) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Score
	}
	return out
}

func vecScores(rs []*VectorSearchResult) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = float64(r.Score)
	}
	return out
}

// minMaxByRank normalizes a score list to [0,1]. A single result or a flat
// list normalizes to all ones.
func minMaxByRank(scores []float64) []float64 {
	if len(scores) == 0 {
		return scores
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// autocut truncates a fused list at the nth steep score drop. A drop is
// steep when it exceeds the average step between the first and last score.
func autocut(fused []*fusedHit, n int) []*fusedHit {
	if len(fused) < 2 || n <= 0 {
		return fused
	}

	first := fused[0].fusedScore
	last := fused[len(fused)-1].fusedScore
	avgStep := (first - last) / float64(len(fused)-1)
	if avgStep <= 0 {
		return fused
	}

	jumps := 0
	for i := 1; i < len(fused); i++ {
		if fused[i-1].fusedScore-fused[i].fusedScore > avgStep {
			jumps++
			if jumps >= n {
				return fused[:i]
			}
		}
	}
	return fused
}
