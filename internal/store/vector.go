package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// ErrDimensionMismatch indicates a vector with the wrong dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// classGraph holds one class's HNSW graph with its string <-> uint64 key
// mappings. coder/hnsw keys graphs by uint64; object IDs are UUIDs.
type classGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// VectorIndex maintains one in-memory HNSW graph per class. Graphs are not
// persisted; the catalog's embeddings table is the durable copy and graphs
// are rebuilt from it on open.
type VectorIndex struct {
	mu         sync.RWMutex
	classes    map[string]*classGraph
	dimensions int
	m          int
	efSearch   int
	closed     bool
}

// NewVectorIndex creates an empty vector index expecting vectors of the
// given dimensionality.
func NewVectorIndex(dimensions int) *VectorIndex {
	return &VectorIndex{
		classes:    make(map[string]*classGraph),
		dimensions: dimensions,
		m:          16,
		efSearch:   20,
	}
}

// class returns or creates the graph for a class. Callers hold v.mu.
func (v *VectorIndex) class(name string) *classGraph {
	cg, ok := v.classes[name]
	if !ok {
		g := hnsw.NewGraph[uint64]()
		g.Distance = hnsw.CosineDistance
		g.M = v.m
		g.EfSearch = v.efSearch
		g.Ml = 0.25
		cg = &classGraph{
			graph:  g,
			idMap:  make(map[string]uint64),
			keyMap: make(map[uint64]string),
		}
		v.classes[name] = cg
	}
	return cg
}

// Add inserts vectors into a class. Existing IDs are replaced.
func (v *VectorIndex) Add(ctx context.Context, class string, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.dimensions {
			return ErrDimensionMismatch{Expected: v.dimensions, Got: len(vec)}
		}
	}

	cg := v.class(class)
	for i, id := range ids {
		// Lazy deletion on replace: orphan the old key rather than removing
		// the node. Removing the last node breaks coder/hnsw graphs.
		if oldKey, exists := cg.idMap[id]; exists {
			delete(cg.keyMap, oldKey)
			delete(cg.idMap, id)
		}

		key := cg.nextKey
		cg.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		cg.graph.Add(hnsw.MakeNode(key, vec))
		cg.idMap[id] = key
		cg.keyMap[key] = id
	}
	return nil
}

// Search finds the k nearest neighbors to query within a class.
// Scores are cosine similarities mapped to [0,1].
func (v *VectorIndex) Search(ctx context.Context, class string, query []float32, k int) ([]*VectorSearchResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	if len(query) != v.dimensions {
		return nil, ErrDimensionMismatch{Expected: v.dimensions, Got: len(query)}
	}

	cg, ok := v.classes[class]
	if !ok || cg.graph.Len() == 0 {
		return []*VectorSearchResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Oversample to cover lazy-deleted orphans still in the graph.
	orphans := cg.graph.Len() - len(cg.idMap)
	nodes := cg.graph.Search(q, k+orphans)

	results := make([]*VectorSearchResult, 0, k)
	for _, node := range nodes {
		id, exists := cg.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := cg.graph.Distance(q, node.Value)
		results = append(results, &VectorSearchResult{
			ID:    id,
			Score: 1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes vectors by ID from a class. Lazy: nodes stay in the graph
// but lose their ID mapping and never surface in results.
func (v *VectorIndex) Delete(ctx context.Context, class string, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	cg, ok := v.classes[class]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := cg.idMap[id]; exists {
			delete(cg.keyMap, key)
			delete(cg.idMap, id)
		}
	}
	return nil
}

// DeleteClass drops a class's graph entirely.
func (v *VectorIndex) DeleteClass(ctx context.Context, class string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	delete(v.classes, class)
	return nil
}

// Count returns the number of live vectors in a class.
func (v *VectorIndex) Count(class string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if cg, ok := v.classes[class]; ok {
		return len(cg.idMap)
	}
	return 0
}

// Close releases all graphs.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.classes = nil
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
