package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	nouserr "github.com/nousbase/nous/internal/errors"
)

// RemoteConfig configures the remote embedding client.
type RemoteConfig struct {
	// Endpoint is the base URL of the embeddings service.
	Endpoint string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is the embedding model identifier (default: e5-large).
	Model string
	// Dimensions is the expected embedding dimension.
	Dimensions int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries bounds retry attempts on timeout/connection errors.
	MaxRetries int
	// RequestsPerSecond rate-limits calls to the service (0 = unlimited).
	RequestsPerSecond float64
}

// Remote talks to an HTTP embeddings endpoint. Passage/query prefixing for
// E5-family models happens here, not in stored content.
type Remote struct {
	config  RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ Embedder = (*Remote)(nil)

type embedRequest struct {
	Model  string   `json:"model"`
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewRemote creates a remote embedder client.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Remote{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// Embed generates the embedding for a single text.
func (r *Remote) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, retrying transient
// transport failures with bounded backoff.
func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	cfg := nouserr.RetryConfig{
		MaxRetries:   r.config.MaxRetries,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}

	return nouserr.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		return r.embedOnce(ctx, texts)
	})
}

func (r *Remote) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: r.config.Model, Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, nouserr.New(nouserr.ErrCodeEmbedUnavailable,
			fmt.Sprintf("embedding service returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(texts), len(parsed.Embeddings))
	}

	for i, v := range parsed.Embeddings {
		if len(v) != r.config.Dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", r.config.Dimensions, len(v))
		}
		parsed.Embeddings[i] = normalizeVector(v)
	}

	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (r *Remote) Dimensions() int {
	return r.config.Dimensions
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

// classifyTransportError maps network failures onto the retryable taxonomy.
func classifyTransportError(err error) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return nouserr.New(nouserr.ErrCodeStoreTimeout, "embedding request timed out", err)
	}
	return nouserr.New(nouserr.ErrCodeEmbedUnavailable, "embedding service unreachable", err)
}
