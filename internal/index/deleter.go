package index

import (
	"context"
	"log/slog"

	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/schema"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

// Deleter removes a saved page and all of its chunks.
type Deleter struct {
	store  *store.Store
	logger *slog.Logger
}

func NewDeleter(s *store.Store, logger *slog.Logger) *Deleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deleter{store: s, logger: logger}
}

// Delete removes the source object and every chunk it references. A source
// with zero chunk references is still deleted. A missing source, or any
// store failure along the way, surfaces as a deletion failure.
func (d *Deleter) Delete(ctx context.Context, ns tenant.Namespace, sourceID string) error {
	source, err := d.store.GetObject(ctx, ns.SourceClass(), sourceID, schema.RefChunks)
	if err != nil {
		return d.fail(ns, sourceID, err)
	}

	refs := source.Refs[schema.RefChunks]
	chunkIDs := make([]string, len(refs))
	for i, ref := range refs {
		chunkIDs[i] = ref.ID
	}

	if _, err := d.store.DeleteObjects(ctx, ns.ChunkClass(), chunkIDs); err != nil {
		return d.fail(ns, sourceID, err)
	}
	if err := d.store.DeleteObject(ctx, ns.SourceClass(), sourceID); err != nil {
		return d.fail(ns, sourceID, err)
	}

	d.logger.Info("page_deleted",
		slog.String("user_id", ns.ID()),
		slog.String("source_id", sourceID),
		slog.Int("chunks", len(chunkIDs)))
	return nil
}

func (d *Deleter) fail(ns tenant.Namespace, sourceID string, err error) error {
	d.logger.Error("delete_failed",
		slog.String("user_id", ns.ID()),
		slog.String("source_id", sourceID),
		slog.String("error", err.Error()))
	return nouserr.DeleteFailed(err).WithDetail("source_id", sourceID).WithDetail("user_id", ns.ID())
}
