package embed

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// openAIModelDimensions lists native vector sizes of well-known models.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-style embedder.
type OpenAIConfig struct {
	// BaseURL overrides the API root for OpenAI-compatible servers.
	BaseURL string
	APIKey  string
	Model   string

	// Dimensions defaults to the model's native size when known.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// MaxRetries defaults to DefaultMaxRetries; NoRetries disables them.
	MaxRetries int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API through langchaingo.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dims     int
	timeout  time.Duration
	retry    apperr.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the embedder. An API key is required unless
// BaseURL points at a self-hosted compatible server.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = openAIModelDimensions[cfg.Model]
	}
	if cfg.Dimensions <= 0 {
		return nil, errDimensionsRequired(ProviderOpenAI)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	token := cfg.APIKey
	if token == "" {
		if cfg.BaseURL == "" {
			return nil, apperr.ConfigError("openai embedding provider requires an API key", nil).
				WithSuggestion("set OPENAI_API_KEY or embedding.api_key")
		}
		// Local OpenAI-compatible servers usually skip authentication.
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, apperr.ConfigError("create openai client", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, apperr.ConfigError("create openai embedder", err)
	}

	retry := apperr.DefaultRetryConfig()
	retry.MaxRetries = max(cfg.MaxRetries, 0)
	retry.ShouldRetry = isRetryable

	return &OpenAIEmbedder{
		embedder: embedder,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		timeout:  cfg.Timeout,
		retry:    retry,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order; langchaingo splits them into requests
// of BatchSize.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, newProviderError(KindUnavailable, string(ProviderOpenAI), errorf("embedder is closed"))
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	var inputs []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
		inputs = append(inputs, text)
	}
	if len(inputs) == 0 {
		return results, nil
	}

	vecs, err := apperr.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		out, err := e.embedder.EmbedDocuments(attemptCtx, inputs)
		if err != nil {
			return nil, classifyOpenAIError(attemptCtx, err)
		}
		for i := range out {
			out[i] = normalizeVector(out[i])
		}
		if err := checkVectors(string(ProviderOpenAI), e.dims, len(inputs), out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := range pending {
		results[j] = vecs[i]
	}
	return results, nil
}

// Dimensions returns the vector size.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns "openai/<model>".
func (e *OpenAIEmbedder) ModelName() string { return "openai/" + e.model }

// Available reports whether the embedder is open. No request is made so
// the check costs nothing against the API quota.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// classifyOpenAIError maps langchaingo client errors, which carry the HTTP
// status only in their message, to provider error kinds.
func classifyOpenAIError(attemptCtx context.Context, err error) *ProviderError {
	provider := string(ProviderOpenAI)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || attemptCtx.Err() != nil {
		return newProviderError(classifyTransport(attemptCtx, err), provider, err)
	}

	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		pe := newProviderError(classifyStatus(status), provider, err)
		pe.StatusCode = status
		return pe
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode") || strings.Contains(msg, "no embeddings"):
		return newProviderError(KindMalformedResponse, provider, err)
	default:
		return newProviderError(KindNetwork, provider, err)
	}
}
