package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/embed"
	"github.com/nousbase/nous/internal/rerank"
)

// Config controls how the store is opened.
type Config struct {
	// DataDir is the directory holding the catalog database and any on-disk
	// indexes. Empty means fully in-memory (tests).
	DataDir string

	// BM25Backend selects the keyword index implementation.
	BM25Backend BM25Backend

	// Embedder vectorizes passages and queries for classes that declare a
	// vectorizer. Required.
	Embedder embed.Embedder

	// Reranker reorders hybrid results for classes that declare a reranker.
	// Optional; nil disables reranking.
	Reranker rerank.Reranker

	Logger *slog.Logger
}

// Store is an embedded object store with hybrid retrieval. The SQLite
// catalog is the system of record; the BM25 and HNSW indexes are derived
// from it. Objects are grouped into classes created at runtime, one pair of
// classes per user.
type Store struct {
	cfg      Config
	lock     *flock.Flock
	catalog  *catalog
	bm25     BM25Index
	vectors  *VectorIndex
	embedder embed.Embedder
	reranker rerank.Reranker
	logger   *slog.Logger
}

// Open opens or creates the store under cfg.DataDir. The directory is
// guarded by a file lock so two processes cannot share one store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("store: embedder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var lock *flock.Flock
	catalogPath := ":memory:"
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}

		lock = flock.New(filepath.Join(cfg.DataDir, ".nous.lock"))
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire data dir lock: %w", err)
		}
		if !acquired {
			return nil, nouserr.New(nouserr.ErrCodeStoreLocked,
				fmt.Sprintf("data dir %s is locked by another process", cfg.DataDir), nil)
		}
		catalogPath = filepath.Join(cfg.DataDir, "nous.db")
	}

	cat, err := openCatalog(catalogPath)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}

	bm25, err := NewBM25Index(cfg.BM25Backend, cat.db, cfg.DataDir)
	if err != nil {
		_ = cat.close()
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		lock:     lock,
		catalog:  cat,
		bm25:     bm25,
		vectors:  NewVectorIndex(cfg.Embedder.Dimensions()),
		embedder: cfg.Embedder,
		reranker: cfg.Reranker,
		logger:   cfg.Logger,
	}

	if err := s.rebuildVectors(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// rebuildVectors reloads every class's HNSW graph from the persisted
// embeddings. The graphs are memory-only, so this runs on every open.
func (s *Store) rebuildVectors(ctx context.Context) error {
	start := time.Now()
	classes, err := s.catalog.listClasses(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, class := range classes {
		vecs, err := s.catalog.classEmbeddings(ctx, class)
		if err != nil {
			return err
		}
		if len(vecs) == 0 {
			continue
		}
		ids := make([]string, 0, len(vecs))
		vectors := make([][]float32, 0, len(vecs))
		for id, v := range vecs {
			ids = append(ids, id)
			vectors = append(vectors, v)
		}
		// A persisted embedding the graph rejects (wrong dimensions) means
		// the catalog and the configured embedder disagree.
		if err := s.vectors.Add(ctx, class, ids, vectors); err != nil {
			return nouserr.Wrap(nouserr.ErrCodeCorruptIndex,
				fmt.Errorf("failed to rebuild vectors for class %s: %w", class, err))
		}
		total += len(ids)
	}

	if total > 0 {
		s.logger.Info("vector_index_rebuilt",
			slog.Int("classes", len(classes)),
			slog.Int("vectors", total),
			slog.Duration("took", time.Since(start)))
	}
	return nil
}

// CreateClass registers a class definition. Returns ErrClassExists if the
// name is taken.
func (s *Store) CreateClass(ctx context.Context, def *ClassDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return s.catalog.createClass(ctx, def)
}

// ClassExists reports whether a class is registered.
func (s *Store) ClassExists(ctx context.Context, class string) (bool, error) {
	return s.catalog.classExists(ctx, class)
}

// GetClass returns a class definition, or ErrClassNotFound.
func (s *Store) GetClass(ctx context.Context, class string) (*ClassDef, error) {
	return s.catalog.getClass(ctx, class)
}

// DropClass removes a class and everything indexed under it.
func (s *Store) DropClass(ctx context.Context, class string) error {
	if err := s.catalog.dropClass(ctx, class); err != nil {
		return err
	}
	if err := s.bm25.DeleteClass(ctx, class); err != nil {
		return err
	}
	return s.vectors.DeleteClass(ctx, class)
}

// GetObject fetches one object by ID, resolving the named reference
// properties on it.
func (s *Store) GetObject(ctx context.Context, class, id string, refProps ...string) (*Object, error) {
	obj, err := s.catalog.getObject(ctx, class, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolveRefs(ctx, []*Object{obj}, refProps); err != nil {
		return nil, err
	}
	return obj, nil
}

// ListObjects returns up to limit objects of a class, newest first.
func (s *Store) ListObjects(ctx context.Context, class string, limit int, refProps ...string) ([]*Object, error) {
	if exists, err := s.catalog.classExists(ctx, class); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}

	objs, err := s.catalog.listObjects(ctx, class, limit)
	if err != nil {
		return nil, err
	}
	if err := s.resolveRefs(ctx, objs, refProps); err != nil {
		return nil, err
	}
	return objs, nil
}

// DeleteObjects removes objects and their index entries. Returns the number
// of catalog rows deleted; IDs that don't exist are skipped silently.
func (s *Store) DeleteObjects(ctx context.Context, class string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.bm25.Delete(ctx, class, ids); err != nil {
		return 0, err
	}
	if err := s.vectors.Delete(ctx, class, ids); err != nil {
		return 0, err
	}
	return s.catalog.deleteObjects(ctx, class, ids)
}

// DeleteObject removes a single object. Unlike DeleteObjects, a missing id
// is an error.
func (s *Store) DeleteObject(ctx context.Context, class, id string) error {
	n, err := s.DeleteObjects(ctx, class, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, class, id)
	}
	return nil
}

func (s *Store) resolveRefs(ctx context.Context, objs []*Object, refProps []string) error {
	if len(objs) == 0 || len(refProps) == 0 {
		return nil
	}
	ids := make([]string, len(objs))
	for i, obj := range objs {
		ids[i] = obj.ID
	}
	for _, prop := range refProps {
		targets, err := s.catalog.refTargets(ctx, ids, prop)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			if t, ok := targets[obj.ID]; ok {
				if obj.Refs == nil {
					obj.Refs = make(map[string][]RefTarget)
				}
				obj.Refs[prop] = t
			}
		}
	}
	return nil
}

// Close releases the indexes, the catalog, and the data dir lock.
func (s *Store) Close() error {
	var firstErr error
	if err := s.bm25.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.catalog.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
