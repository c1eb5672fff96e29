// Package rerank provides the secondary relevance scoring pass consumed by
// hybrid search. The store configures which model and field to rerank; the
// scoring itself is an opaque remote cross-encoder service.
package rerank

import "context"

// DefaultModel is the default reranker model identifier.
const DefaultModel = "rerank-english-v2.0"

// Result represents a single reranked result.
type Result struct {
	// Index is the original position in the input documents slice.
	Index int
	// Score is the relevance score (0.0 to 1.0).
	Score float64
	// Document is the original document content.
	Document string
}

// Reranker reranks search results using a cross-encoder model.
// Cross-encoders jointly encode query-document pairs for more accurate
// relevance scoring than bi-encoders, at higher computational cost.
type Reranker interface {
	// Rerank scores and reorders documents by relevance to the query.
	// Returns results sorted by score descending; topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the reranker service is available.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoOp is a reranker that returns results in original order.
// Used when reranking is disabled or the remote service is unavailable.
type NoOp struct{}

var _ Reranker = (*NoOp)(nil)

// Rerank returns documents in original order with decreasing scores.
func (n *NoOp) Rerank(_ context.Context, _ string, documents []string, topK int) ([]Result, error) {
	results := make([]Result, len(documents))
	for i, doc := range documents {
		results[i] = Result{
			Index:    i,
			Score:    1.0 - float64(i)*0.01, // 1.0, 0.99, 0.98, ...
			Document: doc,
		}
	}

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// ModelName returns the model identifier.
func (n *NoOp) ModelName() string { return "noop" }

// Available always returns true for NoOp.
func (n *NoOp) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (n *NoOp) Close() error { return nil }
