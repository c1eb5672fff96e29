// Package embed provides the embedding capability consumed by the store. The
// store configures which model and field to embed; the computation itself is
// an opaque remote service (or a deterministic local stand-in for tests).
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultModel is the default embedding model identifier.
	DefaultModel = "intfloat/e5-large"

	// DefaultDimensions is the embedding dimension for e5-large.
	DefaultDimensions = 1024

	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// E5 models distinguish passages from queries by a text prefix. Prefixing
// happens here at the embedder boundary so stored chunk text stays clean.
const (
	PassagePrefix = "passage: "
	QueryPrefix   = "query: "
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
