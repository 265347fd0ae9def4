package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// embedRequest is the JSON body shared by Ollama's /api/embed and custom endpoints.
type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// embedResponse is the JSON response shared by Ollama and custom endpoints.
type embedResponse struct {
	Model      string      `json:"model,omitempty"`
	Embeddings [][]float64 `json:"embeddings"`
}

// httpEmbedder is the request loop behind the Ollama and custom variants:
// batching, per-attempt timeouts, retry with backoff and response checks.
type httpEmbedder struct {
	provider  string
	url       string
	model     string
	apiKey    string
	dims      int
	batchSize int
	timeout   time.Duration
	retry     apperr.RetryConfig

	client    *http.Client
	transport *http.Transport

	mu     sync.RWMutex
	closed bool
}

type httpOptions struct {
	provider   string
	url        string
	model      string
	apiKey     string
	dims       int
	batchSize  int
	timeout    time.Duration
	maxRetries int
	poolSize   int
}

func newHTTPEmbedder(o httpOptions) *httpEmbedder {
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	o.batchSize = min(o.batchSize, MaxBatchSize)
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	if o.poolSize <= 0 {
		o.poolSize = 4
	}

	// No client-level Timeout: each attempt gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        o.poolSize,
		MaxIdleConnsPerHost: o.poolSize,
		MaxConnsPerHost:     o.poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	retry := apperr.DefaultRetryConfig()
	retry.MaxRetries = max(o.maxRetries, 0)
	retry.ShouldRetry = isRetryable

	return &httpEmbedder{
		provider:  o.provider,
		url:       o.url,
		model:     o.model,
		apiKey:    o.apiKey,
		dims:      o.dims,
		batchSize: o.batchSize,
		timeout:   o.timeout,
		retry:     retry,
		client:    &http.Client{Transport: transport},
		transport: transport,
	}
}

func (h *httpEmbedder) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return newProviderError(KindUnavailable, h.provider, errorf("embedder is closed"))
	}
	return nil
}

func (h *httpEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := h.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedBatch sends texts in batchSize requests. Blank texts map to zero
// vectors without a round trip.
func (h *httpEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, h.dims)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += h.batchSize {
		end := min(start+h.batchSize, len(pending))
		idx := pending[start:end]
		batch := make([]string, len(idx))
		for i, j := range idx {
			batch[i] = texts[j]
		}

		vecs, err := apperr.RetryWithResult(ctx, h.retry, func() ([][]float32, error) {
			return h.doRequest(ctx, batch)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !IsProviderError(err) {
				return nil, newProviderError(classifyTransport(ctx, ctxErr), h.provider, ctxErr)
			}
			return nil, err
		}
		for i, j := range idx {
			results[j] = vecs[i]
		}
	}
	return results, nil
}

func (h *httpEmbedder) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: h.model, Input: texts})
	if err != nil {
		return nil, newProviderError(KindRejected, h.provider, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, newProviderError(KindRejected, h.provider, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	slog.Debug("embedding_request",
		slog.String("provider", h.provider),
		slog.Int("texts_count", len(texts)),
		slog.Duration("timeout", h.timeout))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, newProviderError(classifyTransport(attemptCtx, err), h.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		pe := newProviderError(classifyStatus(resp.StatusCode), h.provider,
			errorf("%s", strings.TrimSpace(string(respBody))))
		pe.StatusCode = resp.StatusCode
		return nil, pe
	}

	var apiResult embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		if attemptCtx.Err() != nil {
			return nil, newProviderError(KindTimeout, h.provider, err)
		}
		return nil, newProviderError(KindMalformedResponse, h.provider, fmt.Errorf("decode response: %w", err))
	}

	vecs := toFloat32(apiResult.Embeddings)
	if err := checkVectors(h.provider, h.dims, len(texts), vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

// probe GETs url and reports whether the server answered below 500.
func (h *httpEmbedder) probe(ctx context.Context, url string) bool {
	if h.checkOpen() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

func (h *httpEmbedder) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.transport.CloseIdleConnections()
	return nil
}
