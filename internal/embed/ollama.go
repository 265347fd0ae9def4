package embed

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general-purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use.
	Model string

	// Dimensions is the vector size the model produces. Required.
	Dimensions int

	// BatchSize for batch embedding requests (default: 32).
	BatchSize int

	// Timeout bounds each request attempt (default: 30s).
	Timeout time.Duration

	// MaxRetries for transient failures (default: 2, NoRetries for none).
	MaxRetries int

	// PoolSize for the HTTP connection pool (default: 4).
	PoolSize int
}

// OllamaEmbedder generates embeddings using Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	*httpEmbedder
	host string
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. It does not contact the
// server; use Available to check reachability.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Dimensions <= 0 {
		return nil, errDimensionsRequired(ProviderOllama)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	host := strings.TrimRight(cfg.Host, "/")

	return &OllamaEmbedder{
		httpEmbedder: newHTTPEmbedder(httpOptions{
			provider:   string(ProviderOllama),
			url:        host + "/api/embed",
			model:      cfg.Model,
			dims:       cfg.Dimensions,
			batchSize:  cfg.BatchSize,
			timeout:    cfg.Timeout,
			maxRetries: cfg.MaxRetries,
			poolSize:   cfg.PoolSize,
		}),
		host: host,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedBatch embeds texts in order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedBatch(ctx, texts)
}

// Dimensions returns the configured vector size.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns "ollama/<model>".
func (e *OllamaEmbedder) ModelName() string { return "ollama/" + e.model }

// Available checks that the Ollama server answers /api/tags.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	return e.probe(ctx, e.host+"/api/tags")
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error { return e.close() }
