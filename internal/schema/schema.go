// Package schema defines the per-user class pair and keeps it provisioned.
// Every user gets a source class (one object per saved page) and a chunk
// class (vectorized passages referencing their source).
package schema

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nousbase/nous/internal/embed"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/rerank"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

// Property and reference names shared across the indexing and search layers.
const (
	PropURI     = "uri"
	PropTitle   = "title"
	PropContent = "source_content"

	RefChunks = "chunk_refs"
	RefSource = "hasCategory"
)

// SourceDef returns the class definition for a user's saved pages.
func SourceDef(ns tenant.Namespace) *store.ClassDef {
	return &store.ClassDef{
		Class:       ns.SourceClass(),
		Description: "A saved web page",
		Properties: []store.Property{
			{Name: PropURI, Description: "Normalized page URL"},
			{Name: PropTitle, Description: "Page title"},
		},
		References: []store.ReferenceDef{
			{Name: RefChunks, Target: ns.ChunkClass(), Multi: true},
		},
	}
}

// ChunkDef returns the class definition for a user's content chunks.
func ChunkDef(ns tenant.Namespace) *store.ClassDef {
	return &store.ClassDef{
		Class:       ns.ChunkClass(),
		Description: "A passage of saved page content",
		Properties: []store.Property{
			{Name: PropContent, Description: "Chunk text"},
		},
		References: []store.ReferenceDef{
			{Name: RefSource, Target: ns.SourceClass()},
		},
		Vectorizer: &store.VectorizerConfig{
			Model: embed.DefaultModel,
			Field: PropContent,
		},
		Reranker: &store.RerankerConfig{
			Model: rerank.DefaultModel,
			Field: PropContent,
		},
	}
}

// Manager provisions and tears down per-user classes.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

func NewManager(s *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger}
}

// Ensure creates the user's class pair if it doesn't exist yet. Safe to call
// on every request; creation races resolve to success. Transient store
// failures retry on a fixed schedule before giving up.
func (m *Manager) Ensure(ctx context.Context, ns tenant.Namespace) error {
	err := nouserr.Retry(ctx, nouserr.SchemaRetryConfig(), func() error {
		return m.ensureOnce(ctx, ns)
	})
	if err != nil {
		m.logger.Error("schema_init_failed",
			slog.String("user_id", ns.ID()),
			slog.String("error", err.Error()))
		return nouserr.New(nouserr.ErrCodeSchemaInitFailed, "schema initialization failed", err)
	}
	return nil
}

func (m *Manager) ensureOnce(ctx context.Context, ns tenant.Namespace) error {
	for _, def := range []*store.ClassDef{ChunkDef(ns), SourceDef(ns)} {
		exists, err := m.store.ClassExists(ctx, def.Class)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := m.store.CreateClass(ctx, def); err != nil {
			// Lost a creation race; the class is there now.
			if errors.Is(err, store.ErrClassExists) {
				continue
			}
			return err
		}
		m.logger.Info("class_created",
			slog.String("class", def.Class),
			slog.String("user_id", ns.ID()))
	}
	return nil
}

// Exists reports whether the user's chunk class has been provisioned.
func (m *Manager) Exists(ctx context.Context, ns tenant.Namespace) (bool, error) {
	return m.store.ClassExists(ctx, ns.ChunkClass())
}

// DeleteUser drops both of the user's classes. Absent classes are not an
// error, so deletion is idempotent.
func (m *Manager) DeleteUser(ctx context.Context, ns tenant.Namespace) error {
	for _, class := range []string{ns.SourceClass(), ns.ChunkClass()} {
		exists, err := m.store.ClassExists(ctx, class)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := m.store.DropClass(ctx, class); err != nil {
			return nouserr.New(nouserr.ErrCodeDeleteFailed, "failed to delete user data", err)
		}
	}
	m.logger.Info("user_classes_deleted", slog.String("user_id", ns.ID()))
	return nil
}
