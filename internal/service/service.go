// Package service is the application facade: it owns the save, search,
// list, and delete flows and wires schema provisioning, deduplication, and
// background indexing together.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nousbase/nous/internal/async"
	"github.com/nousbase/nous/internal/dedup"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/index"
	"github.com/nousbase/nous/internal/querylog"
	"github.com/nousbase/nous/internal/schema"
	"github.com/nousbase/nous/internal/search"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

// ErrAlreadySaved means the user saved this URL before; the save is a no-op.
var ErrAlreadySaved = errors.New("url already saved")

// ErrInvalidInput rejects empty or unusable request fields.
var ErrInvalidInput = errors.New("invalid input")

// Service exposes the knowledge-base operations.
type Service struct {
	store      *store.Store
	schemas    *schema.Manager
	indexer    *index.Indexer
	deleter    *index.Deleter
	searcher   *search.Searcher
	tracker    *dedup.Tracker
	dispatcher *async.Dispatcher
	audit      *querylog.Logger
	logger     *slog.Logger
}

// Options assembles a Service from its parts. Audit may be nil.
type Options struct {
	Store      *store.Store
	Tracker    *dedup.Tracker
	Dispatcher *async.Dispatcher
	Audit      *querylog.Logger
	Logger     *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      opts.Store,
		schemas:    schema.NewManager(opts.Store, logger),
		indexer:    index.NewIndexer(opts.Store, logger),
		deleter:    index.NewDeleter(opts.Store, logger),
		searcher:   search.NewSearcher(opts.Store, logger),
		tracker:    opts.Tracker,
		dispatcher: opts.Dispatcher,
		audit:      opts.Audit,
		logger:     logger,
	}
}

// EnsureSchema provisions the user's classes. Called from the signup
// path; SavePage provisions lazily as well, so this is an optimization,
// not a precondition.
func (s *Service) EnsureSchema(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.schemas.Ensure(ctx, tenant.NewNamespace(userID))
}

// SavePage validates and claims the URL, then hands indexing to the
// background pool. The returned task reports completion; a failed index
// run releases the claim so the URL can be saved again.
func (s *Service) SavePage(ctx context.Context, userID, uri, title, content string) (*async.Task, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("%w: user id and url are required", ErrInvalidInput)
	}

	ns := tenant.NewNamespace(userID)
	if err := s.schemas.Ensure(ctx, ns); err != nil {
		return nil, err
	}

	normalized := index.NormalizeURI(uri)
	won, err := s.tracker.Reserve(ctx, ns.ID(), normalized)
	if err != nil {
		return nil, nouserr.TransientStore("failed to record save", err)
	}
	if !won {
		return nil, ErrAlreadySaved
	}

	page := index.Page{URI: normalized, Title: title, Content: content}
	task, err := s.dispatcher.Submit("save "+normalized, func(jobCtx context.Context) error {
		if _, err := s.indexer.Index(jobCtx, ns, page); err != nil {
			if relErr := s.tracker.Release(context.Background(), ns.ID(), normalized); relErr != nil {
				s.logger.Error("dedup_release_failed",
					slog.String("user_id", ns.ID()),
					slog.String("uri", normalized),
					slog.String("error", relErr.Error()))
			}
			return err
		}
		return nil
	})
	if err != nil {
		// Submission failed; nothing will index this URL, undo the claim.
		if relErr := s.tracker.Release(ctx, ns.ID(), normalized); relErr != nil {
			s.logger.Error("dedup_release_failed",
				slog.String("user_id", ns.ID()),
				slog.String("error", relErr.Error()))
		}
		return nil, err
	}
	return task, nil
}

// Search answers a query over the user's saved pages and audits the raw
// retrieval response.
func (s *Service) Search(ctx context.Context, userID, query string) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	ns := tenant.NewNamespace(userID)
	raw, results, err := s.searcher.Search(ctx, ns, query)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Log(ns.ID(), query, raw)
	}
	return results, nil
}

// ListSaved returns the user's saved pages, newest first.
func (s *Service) ListSaved(ctx context.Context, userID string, limit int) ([]search.SavedDocument, error) {
	return s.searcher.ListSaved(ctx, tenant.NewNamespace(userID), limit)
}

// DeleteDocument removes one saved page and its chunks, and releases the
// URL claim so the page can be saved again.
func (s *Service) DeleteDocument(ctx context.Context, userID, sourceID string) error {
	ns := tenant.NewNamespace(userID)

	source, err := s.store.GetObject(ctx, ns.SourceClass(), sourceID)
	if err != nil {
		return nouserr.DeleteFailed(err).WithDetail("source_id", sourceID)
	}
	uri := source.Properties[schema.PropURI]

	if err := s.deleter.Delete(ctx, ns, sourceID); err != nil {
		return err
	}
	if err := s.tracker.Release(ctx, ns.ID(), uri); err != nil {
		s.logger.Error("dedup_release_failed",
			slog.String("user_id", ns.ID()),
			slog.String("uri", uri),
			slog.String("error", err.Error()))
	}
	return nil
}

// DeleteUser removes everything the user ever saved.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	ns := tenant.NewNamespace(userID)
	if err := s.schemas.DeleteUser(ctx, ns); err != nil {
		return err
	}
	return s.tracker.DeleteUser(ctx, ns.ID())
}
