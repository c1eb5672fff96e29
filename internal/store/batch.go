package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/embed"
)

// BatchConfig tunes batch writes.
type BatchConfig struct {
	// Size is the number of objects per flush shard.
	Size int

	// Workers bounds concurrent shard flushes.
	Workers int

	// MaxRetries is the per-shard retry budget for transient store errors.
	MaxRetries int
}

// DefaultBatchConfig returns the standard batch settings.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Size: 10, Workers: 1, MaxRetries: 3}
}

type pendingObject struct {
	obj   *Object
	def   *ClassDef
	embed bool // class declares a vectorizer
}

// Batch accumulates objects and references, then writes them in one Flush.
// IDs are assigned synchronously by AddObject so references between batched
// objects can be declared before anything is written. A Batch is not safe
// for concurrent use.
type Batch struct {
	store   *Store
	cfg     BatchConfig
	objects []*pendingObject
	refs    [][3]string // from_id, prop, to_id
	defs    map[string]*ClassDef
	flushed bool
}

// NewBatch starts an empty batch against the store.
func (s *Store) NewBatch(cfg BatchConfig) *Batch {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchConfig().Size
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBatchConfig().Workers
	}
	return &Batch{
		store: s,
		cfg:   cfg,
		defs:  make(map[string]*ClassDef),
	}
}

// AddObject queues an object for insertion and returns its assigned ID.
func (b *Batch) AddObject(ctx context.Context, class string, props map[string]string) (string, error) {
	def, err := b.classDef(ctx, class)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	b.objects = append(b.objects, &pendingObject{
		obj: &Object{
			ID:         id,
			Class:      class,
			Properties: props,
			CreatedAt:  time.Now().UTC(),
		},
		def:   def,
		embed: def.Vectorizer != nil,
	})
	return id, nil
}

// AddReference queues a reference from a batched or existing object to
// another object. The reference property must exist on the source class.
func (b *Batch) AddReference(ctx context.Context, fromClass, fromID, prop, toID string) error {
	def, err := b.classDef(ctx, fromClass)
	if err != nil {
		return err
	}
	if def.reference(prop) == nil {
		return fmt.Errorf("class %s has no reference property %s", fromClass, prop)
	}
	b.refs = append(b.refs, [3]string{fromID, prop, toID})
	return nil
}

func (b *Batch) classDef(ctx context.Context, class string) (*ClassDef, error) {
	if def, ok := b.defs[class]; ok {
		return def, nil
	}
	def, err := b.store.catalog.getClass(ctx, class)
	if err != nil {
		return nil, err
	}
	b.defs[class] = def
	return def, nil
}

// Flush writes every queued object and reference. Shards of cfg.Size flush
// concurrently; transient failures retry per shard. Any shard failing after
// retries fails the whole Flush, and already-written shards are not rolled
// back.
func (b *Batch) Flush(ctx context.Context) error {
	if b.flushed {
		return fmt.Errorf("batch already flushed")
	}
	b.flushed = true

	if len(b.objects) == 0 && len(b.refs) == 0 {
		return nil
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)
	for i := 0; i < len(b.objects); i += b.cfg.Size {
		shard := b.objects[i:min(i+b.cfg.Size, len(b.objects))]
		g.Go(func() error {
			retryCfg := nouserr.DefaultRetryConfig()
			retryCfg.MaxRetries = b.cfg.MaxRetries
			return nouserr.Retry(gctx, retryCfg, func() error {
				return b.store.flushShard(gctx, shard)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := b.store.catalog.insertRefs(ctx, b.refs); err != nil {
		return err
	}

	b.store.logger.Debug("batch_flushed",
		slog.Int("objects", len(b.objects)),
		slog.Int("refs", len(b.refs)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// flushShard writes one shard: catalog rows first, then the derived keyword
// and vector entries. Re-running after a partial failure is safe because
// every write is an upsert keyed by object ID.
func (s *Store) flushShard(ctx context.Context, shard []*pendingObject) error {
	objs := make([]*Object, len(shard))
	for i, p := range shard {
		objs[i] = p.obj
	}
	if err := s.catalog.insertObjects(ctx, objs); err != nil {
		return err
	}

	// Group vectorizable objects by class; each class can carry its own
	// vectorized field.
	byClass := make(map[string][]*pendingObject)
	for _, p := range shard {
		if p.embed {
			byClass[p.obj.Class] = append(byClass[p.obj.Class], p)
		}
	}

	for class, pending := range byClass {
		docs := make([]*BM25Document, len(pending))
		texts := make([]string, len(pending))
		ids := make([]string, len(pending))
		for i, p := range pending {
			content := p.obj.Properties[p.def.Vectorizer.Field]
			docs[i] = &BM25Document{ID: p.obj.ID, Content: content}
			texts[i] = embed.PassagePrefix + content
			ids[i] = p.obj.ID
		}

		if err := s.bm25.Index(ctx, class, docs); err != nil {
			return err
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if err := s.catalog.saveEmbeddings(ctx, class, s.embedder.ModelName(), ids, vectors); err != nil {
			return err
		}
		if err := s.vectors.Add(ctx, class, ids, vectors); err != nil {
			return err
		}
	}
	return nil
}
