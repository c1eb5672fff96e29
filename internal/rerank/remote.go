package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// RemoteConfig configures the remote reranker client.
type RemoteConfig struct {
	// Endpoint is the base URL of the rerank service.
	Endpoint string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is the reranker model identifier.
	Model string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Remote talks to an HTTP cross-encoder rerank endpoint.
type Remote struct {
	config RemoteConfig
	client *http.Client
}

var _ Reranker = (*Remote)(nil)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewRemote creates a remote reranker client.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Remote{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Rerank scores query-document pairs and returns results by score descending.
func (r *Remote) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if len(documents) == 0 {
		return []Result{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, pr := range parsed.Results {
		if pr.Index < 0 || pr.Index >= len(documents) {
			return nil, fmt.Errorf("rerank result index %d out of range", pr.Index)
		}
		results = append(results, Result{
			Index:    pr.Index,
			Score:    pr.RelevanceScore,
			Document: documents[pr.Index],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// ModelName returns the model identifier.
func (r *Remote) ModelName() string {
	return r.config.Model
}

// Available checks if the service answers its health endpoint.
func (r *Remote) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
