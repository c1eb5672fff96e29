package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nousbase/nous/internal/async"
	"github.com/nousbase/nous/internal/dedup"
	"github.com/nousbase/nous/internal/embed"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/rerank"
	"github.com/nousbase/nous/internal/store"
	"github.com/nousbase/nous/internal/tenant"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Embedder: embed.NewStaticEmbedder(),
		Reranker: &rerank.NoOp{},
		Logger:   slog.Default(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tracker, err := dedup.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	dispatcher := async.NewDispatcher(async.DefaultConfig(), slog.Default())
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	return New(Options{
		Store:      s,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Logger:     slog.Default(),
	})
}

func savePage(t *testing.T, svc *Service, userID, uri, title, content string) {
	t.Helper()
	task, err := svc.SavePage(context.Background(), userID, uri, title, content)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
}

func TestService_EnsureSchema(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureSchema(ctx, "alice"))
	require.NoError(t, svc.EnsureSchema(ctx, "alice"))

	// A provisioned user with no pages searches empty instead of 404.
	results, err := svc.Search(ctx, "alice", "anything")
	require.NoError(t, err)
	assert.Empty(t, results)

	err = svc.EnsureSchema(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_SaveThenSearch(t *testing.T) {
	svc := newTestService(t)

	savePage(t, svc, "alice", "https://example.com/raft",
		"Raft Consensus", "Raft elects a leader to replicate the log across followers.")

	results, err := svc.Search(context.Background(), "alice", "raft leader election")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://example.com/raft", results[0].URI)
	assert.Equal(t, "Raft Consensus", results[0].Title)
}

func TestService_DuplicateSaveRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	savePage(t, svc, "alice", "https://example.com/page", "Page", "Some content here.")

	// The same page with a fragment is still a duplicate.
	_, err := svc.SavePage(ctx, "alice", "https://example.com/page#section", "Page", "Some content here.")
	assert.ErrorIs(t, err, ErrAlreadySaved)

	// A different user may save it.
	task, err := svc.SavePage(ctx, "bob", "https://example.com/page", "Page", "Some content here.")
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
}

func TestService_SearchIsolatedPerUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	savePage(t, svc, "alice", "https://example.com/private", "Private Notes",
		"Alice's secret research on distributed caches.")

	_, err := svc.Search(ctx, "bob", "secret research")
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeNotIndexedYet, nouserr.GetCode(err))
}

func TestService_InvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SavePage(ctx, "", "https://example.com", "t", "c")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SavePage(ctx, "alice", "  ", "t", "c")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Search(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_DeleteDocumentAllowsResave(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	savePage(t, svc, "alice", "https://example.com/page", "Page", "Content to delete.")

	docs, err := svc.ListSaved(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, svc.DeleteDocument(ctx, "alice", docs[0].ID))

	docs, err = svc.ListSaved(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, docs)

	// The URL claim is released, so the page can be saved again.
	savePage(t, svc, "alice", "https://example.com/page", "Page", "Content to delete.")
}

func TestService_DeleteMissingDocument(t *testing.T) {
	svc := newTestService(t)

	savePage(t, svc, "alice", "https://example.com/x", "X", "content")

	err := svc.DeleteDocument(context.Background(), "alice", "no-such-id")
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeDeleteFailed, nouserr.GetCode(err))
}

func TestService_DeleteUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	savePage(t, svc, "alice", "https://example.com/a", "A", "first page content")
	savePage(t, svc, "alice", "https://example.com/b", "B", "second page content")

	require.NoError(t, svc.DeleteUser(ctx, "alice"))

	_, err := svc.ListSaved(ctx, "alice", 10)
	require.Error(t, err)
	assert.Equal(t, nouserr.ErrCodeNotIndexedYet, nouserr.GetCode(err))

	// Dedup rows are gone too; the same URL saves fresh.
	savePage(t, svc, "alice", "https://example.com/a", "A", "first page content")
}

func TestService_FailedIndexReleasesClaim(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Drop the user's classes between the claim and the background index
	// run by stalling the worker with a slow task first.
	gate := make(chan struct{})
	_, err := svc.dispatcher.Submit("stall", func(context.Context) error {
		<-gate
		return nil
	})
	require.NoError(t, err)

	task, err := svc.SavePage(ctx, "alice", "https://example.com/broken", "T", "content")
	require.NoError(t, err)

	require.NoError(t, svc.schemas.DeleteUser(ctx, tenant.NewNamespace("alice")))
	close(gate)

	require.Error(t, task.Wait(ctx))

	// The claim was released, so the save can be retried.
	won, err := svc.tracker.Reserve(ctx, "alice", "https://example.com/broken")
	require.NoError(t, err)
	assert.True(t, won)
}
