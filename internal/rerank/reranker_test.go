package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOp_PreservesOrder(t *testing.T) {
	r := &NoOp{}

	results, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 2, results[2].Index)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestNoOp_TopK(t *testing.T) {
	r := &NoOp{}

	results, err := r.Rerank(context.Background(), "query", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRemote_SortsByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Documents, 3)

		// Service returns scores out of order.
		_, _ = w.Write([]byte(`{"results":[
			{"index":0,"relevance_score":0.1},
			{"index":1,"relevance_score":0.9},
			{"index":2,"relevance_score":0.5}
		]}`))
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Endpoint: srv.URL})
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, "b", results[0].Document)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 0, results[2].Index)
}

func TestRemote_EmptyDocuments(t *testing.T) {
	r := NewRemote(RemoteConfig{Endpoint: "http://unused"})
	defer r.Close()

	results, err := r.Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemote_BadIndexRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":9,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Endpoint: srv.URL})
	defer r.Close()

	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 0)
	assert.Error(t, err)
}

func TestRemote_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Endpoint: srv.URL})
	defer r.Close()

	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 0)
	assert.Error(t, err)
}
