package embed

import (
	"context"
	"time"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// CustomConfig configures a user-defined embedding endpoint. The endpoint
// receives {"model": ..., "input": [...]} and must answer with
// {"embeddings": [[...], ...]} in input order.
type CustomConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// CustomEmbedder posts to a user-defined endpoint.
type CustomEmbedder struct {
	*httpEmbedder
}

var _ Embedder = (*CustomEmbedder)(nil)

// NewCustomEmbedder validates cfg and creates the embedder.
func NewCustomEmbedder(cfg CustomConfig) (*CustomEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, apperr.ConfigError("custom embedding provider requires an endpoint", nil).
			WithSuggestion("set embedding.endpoint in the config file or PAGESEARCH_EMBED_ENDPOINT")
	}
	if cfg.Dimensions <= 0 {
		return nil, errDimensionsRequired(ProviderCustom)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &CustomEmbedder{
		httpEmbedder: newHTTPEmbedder(httpOptions{
			provider:   string(ProviderCustom),
			url:        cfg.Endpoint,
			model:      cfg.Model,
			apiKey:     cfg.APIKey,
			dims:       cfg.Dimensions,
			batchSize:  cfg.BatchSize,
			timeout:    cfg.Timeout,
			maxRetries: cfg.MaxRetries,
		}),
	}, nil
}

// Embed generates the embedding for a single text.
func (e *CustomEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedBatch embeds texts in order.
func (e *CustomEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embedBatch(ctx, texts)
}

// Dimensions returns the configured vector size.
func (e *CustomEmbedder) Dimensions() int { return e.dims }

// ModelName returns "custom/<model>".
func (e *CustomEmbedder) ModelName() string {
	if e.model == "" {
		return "custom/" + e.url
	}
	return "custom/" + e.model
}

// Available probes the endpoint.
func (e *CustomEmbedder) Available(ctx context.Context) bool {
	return e.probe(ctx, e.url)
}

// Close releases idle connections.
func (e *CustomEmbedder) Close() error { return e.close() }

func errDimensionsRequired(kind ProviderKind) error {
	return apperr.ConfigError(string(kind)+" embedding provider requires dimensions > 0", nil).
		WithSuggestion("set embedding.dimensions to the vector size of the model")
}
