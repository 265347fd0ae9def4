package embed

import (
	"fmt"
	"log/slog"
	"time"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Options selects and configures a provider. It mirrors the embedding
// section of the settings; credentials never leave the variant built here.
type Options struct {
	Provider   ProviderKind
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// CacheSize wraps the provider in a CachedEmbedder when > 0.
	CacheSize int
}

// New builds the Embedder described by opts.
func New(opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderOpenAI:
		embedder, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.Endpoint,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		})
	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(OllamaConfig{
			Host:       opts.Endpoint,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		})
	case ProviderCustom:
		embedder, err = NewCustomEmbedder(CustomConfig{
			Endpoint:   opts.Endpoint,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		})
	case ProviderLocal, "":
		embedder = NewLocalEmbedder(opts.Dimensions)
	case ProviderNone:
		return NewDisabled(opts.Dimensions), nil
	default:
		return nil, apperr.New(apperr.ErrCodeUnknownProvider,
			fmt.Sprintf("unknown embedding provider %q", opts.Provider), nil).
			WithSuggestion(fmt.Sprintf("use one of %v", ValidProviders()))
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_created",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("cache_size", opts.CacheSize))

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}
