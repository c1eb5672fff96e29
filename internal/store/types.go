// Package store implements the vector store collection API: schema-on-demand
// classes, batched object/reference writes, and hybrid (sparse+dense) queries.
// It is the system of record for all tenant data. Sparse retrieval is BM25
// (SQLite FTS5 or Bleve), dense retrieval is HNSW over embeddings produced by
// the configured external embedding capability.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors surfaced by store operations. Callers map these onto the
// user-facing taxonomy; the store itself stays at the storage vocabulary.
var (
	// ErrClassNotFound indicates the class (collection) does not exist.
	// For tenant classes this is the recoverable "no schema yet" condition.
	ErrClassNotFound = errors.New("class not found")

	// ErrClassExists indicates a create for an already existing class.
	ErrClassExists = errors.New("class already exists")

	// ErrObjectNotFound indicates a lookup or delete for a missing object id.
	ErrObjectNotFound = errors.New("object not found")
)

// Property declares one scalar text property of a class.
type Property struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ReferenceDef declares a reference property pointing at another class.
type ReferenceDef struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
	// Multi marks a multi-valued reference (e.g. Source -> chunk_refs).
	Multi bool `json:"multi,omitempty"`
}

// VectorizerConfig declares which field of a class is embedded on write and
// by which external model. A class without a vectorizer is not searchable by
// vector (the Source class stores display metadata only).
type VectorizerConfig struct {
	Model string `json:"model"`
	Field string `json:"field"`
}

// RerankerConfig declares which field is reranked at query time and by which
// external model.
type RerankerConfig struct {
	Model string `json:"model"`
	Field string `json:"field"`
}

// ClassDef is a collection definition. Class names are per-tenant and created
// on demand at signup time.
type ClassDef struct {
	Class       string            `json:"class"`
	Description string            `json:"description,omitempty"`
	Properties  []Property        `json:"properties"`
	References  []ReferenceDef    `json:"references,omitempty"`
	Vectorizer  *VectorizerConfig `json:"vectorizer,omitempty"`
	Reranker    *RerankerConfig   `json:"reranker,omitempty"`
}

// Validate checks structural invariants of a class definition.
func (d *ClassDef) Validate() error {
	if d.Class == "" {
		return fmt.Errorf("class name is required")
	}
	if d.Vectorizer != nil {
		if d.Vectorizer.Field == "" {
			return fmt.Errorf("class %s: vectorizer field is required", d.Class)
		}
		if !d.hasProperty(d.Vectorizer.Field) {
			return fmt.Errorf("class %s: vectorizer field %q is not a property", d.Class, d.Vectorizer.Field)
		}
	}
	if d.Reranker != nil && !d.hasProperty(d.Reranker.Field) {
		return fmt.Errorf("class %s: reranker field %q is not a property", d.Class, d.Reranker.Field)
	}
	for _, r := range d.References {
		if r.Name == "" || r.Target == "" {
			return fmt.Errorf("class %s: reference needs name and target", d.Class)
		}
	}
	return nil
}

func (d *ClassDef) hasProperty(name string) bool {
	for _, p := range d.Properties {
		if p.Name == name {
			return true
		}
	}
	return false
}

// reference returns the reference definition with the given name, if any.
func (d *ClassDef) reference(name string) *ReferenceDef {
	for i := range d.References {
		if d.References[i].Name == name {
			return &d.References[i]
		}
	}
	return nil
}

// RefTarget is one resolved reference target with the properties needed for
// display without a second lookup.
type RefTarget struct {
	ID         string            `json:"id"`
	Class      string            `json:"class"`
	Properties map[string]string `json:"properties"`
}

// Object is a stored entity with resolved reference projections.
type Object struct {
	ID         string                 `json:"id"`
	Class      string                 `json:"class"`
	Properties map[string]string      `json:"properties"`
	Refs       map[string][]RefTarget `json:"refs,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// FusionType selects how sparse and dense scores are combined.
type FusionType string

const (
	// FusionRelativeScore normalizes each retrieval method's scores to [0,1]
	// before blending. Keeps score thresholds meaningful despite mismatched
	// raw score ranges between BM25 and cosine similarity.
	FusionRelativeScore FusionType = "relativeScore"

	// FusionRanked blends reciprocal ranks instead of scores.
	FusionRanked FusionType = "rankedFusion"
)

// HybridParams configures one hybrid query.
type HybridParams struct {
	// Alpha is the dense (vector) weight in [0,1]; sparse gets 1-alpha.
	Alpha float64
	// Fusion selects the score fusion method (default: relativeScore).
	Fusion FusionType
	// Autocut truncates ranked results after this many score-drop groups
	// (0 disables).
	Autocut int
	// Limit bounds the number of returned hits (0 uses DefaultHybridLimit).
	Limit int
	// RefProps lists reference properties to project onto each hit.
	RefProps []string
}

// DefaultHybridLimit bounds hybrid results when no limit is given.
const DefaultHybridLimit = 25

// HitScores carries per-method scores for one hit, preserved for audit.
type HitScores struct {
	BM25     float64 `json:"bm25"`
	Vector   float64 `json:"vector"`
	Fused    float64 `json:"fused"`
	Rerank   float64 `json:"rerank"`
	Reranked bool    `json:"reranked"`
}

// Hit is one hybrid query result row.
type Hit struct {
	ID         string                 `json:"id"`
	Properties map[string]string      `json:"properties"`
	Refs       map[string][]RefTarget `json:"refs,omitempty"`
	// Score is the final ranking score: rerank score when reranking ran,
	// fused score otherwise.
	Score  float64   `json:"score"`
	Scores HitScores `json:"scores"`
}

// HybridResponse is the raw result of one hybrid query. It is JSON-
// serializable as-is for audit logging.
type HybridResponse struct {
	Class string        `json:"class"`
	Query string        `json:"query"`
	Took  time.Duration `json:"took_ns"`
	Hits  []*Hit        `json:"hits"`
}

// BM25Document is one document to index for keyword search.
type BM25Document struct {
	ID      string
	Content string
}

// BM25Result is a single keyword search result.
type BM25Result struct {
	DocID string
	Score float64
}

// BM25Index provides class-scoped keyword search using BM25 scoring.
// Implementations: SQLite FTS5 (default) and Bleve.
type BM25Index interface {
	// Index adds documents to a class's keyword index.
	Index(ctx context.Context, class string, docs []*BM25Document) error

	// Search returns documents of a class matching query, scored by BM25.
	Search(ctx context.Context, class, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from a class's index.
	Delete(ctx context.Context, class string, docIDs []string) error

	// DeleteClass removes a class's entire keyword index.
	DeleteClass(ctx context.Context, class string) error

	// Close releases resources.
	Close() error
}

// BM25Backend selects the keyword index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default, shares the catalog file's
	// directory, single-writer friendly).
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses one Bleve index directory per class.
	BM25BackendBleve BM25Backend = "bleve"
)

// VectorSearchResult is a single dense retrieval result.
type VectorSearchResult struct {
	ID    string
	Score float32 // Normalized similarity (0-1), higher is closer
}
