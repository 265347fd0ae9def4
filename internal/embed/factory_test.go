package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

func TestNew_BuildsEachVariant(t *testing.T) {
	srv := newEmbedServer(t, 4, nil)

	tests := []struct {
		name  string
		opts  Options
		model string
	}{
		{"local", Options{Provider: ProviderLocal, Dimensions: 32}, "local/hash-32"},
		{"default is local", Options{Dimensions: 32}, "local/hash-32"},
		{"ollama", Options{Provider: ProviderOllama, Endpoint: srv.URL, Model: "m", Dimensions: 4}, "ollama/m"},
		{"custom", Options{Provider: ProviderCustom, Endpoint: srv.URL, Model: "c", Dimensions: 4}, "custom/c"},
		{"openai", Options{Provider: ProviderOpenAI, APIKey: "sk-test"}, "openai/text-embedding-3-small"},
		{"none", Options{Provider: ProviderNone, Dimensions: 4}, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.opts)
			require.NoError(t, err)
			defer func() { _ = e.Close() }()
			assert.Equal(t, tt.model, e.ModelName())
		})
	}
}

func TestNew_WrapsInCache(t *testing.T) {
	e, err := New(Options{Provider: ProviderLocal, Dimensions: 8, CacheSize: 5})
	require.NoError(t, err)

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &LocalEmbedder{}, cached.Inner())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeUnknownProvider, apperr.GetCode(err))
}

func TestParseProviderKind(t *testing.T) {
	k, ok := ParseProviderKind(" Ollama ")
	assert.True(t, ok)
	assert.Equal(t, ProviderOllama, k)

	k, ok = ParseProviderKind("")
	assert.True(t, ok)
	assert.Equal(t, ProviderLocal, k)

	_, ok = ParseProviderKind("bogus")
	assert.False(t, ok)
	assert.Len(t, ValidProviders(), 5)
}

func TestDisabled_AlwaysUnavailable(t *testing.T) {
	d := NewDisabled(12)

	_, err := d.Embed(context.Background(), "fox")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, 12, d.Dimensions())
	assert.True(t, IsDisabled(d))
	assert.True(t, IsDisabled(nil))
	assert.False(t, IsDisabled(NewLocalEmbedder(4)))
}

func TestNewOpenAIEmbedder_Validation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	require.Error(t, err, "api key required for the hosted API")

	_, err = NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", Model: "unknown-model"})
	require.Error(t, err, "dimensions required for unknown models")

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://localhost:1234/v1", Model: "unknown-model", Dimensions: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestNewOpenAIEmbedder_MaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       int
	}{
		{"zero selects the default", 0, DefaultMaxRetries},
		{"no retries", NoRetries, 0},
		{"explicit count", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: an OpenAI config with a retry setting
			cfg := OpenAIConfig{APIKey: "sk-test", MaxRetries: tt.maxRetries}

			// When: creating the embedder
			e, err := NewOpenAIEmbedder(cfg)
			require.NoError(t, err)
			defer func() { _ = e.Close() }()

			// Then: the resolved retry budget matches
			assert.Equal(t, tt.want, e.retry.MaxRetries)
		})
	}
}

func TestClassifyOpenAIError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{errors.New("API returned unexpected status code: 401: invalid api key"), KindAuth},
		{errors.New("API returned unexpected status code: 429: slow down"), KindRateLimit},
		{errors.New("API returned unexpected status code: 500: oops"), KindNetwork},
		{errors.New("failed to unmarshal response"), KindMalformedResponse},
		{errors.New("dial tcp: connection refused"), KindNetwork},
		{fmt.Errorf("post: %w", context.DeadlineExceeded), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.kind, classifyOpenAIError(ctx, tt.err).Kind)
		})
	}
}

func TestProviderError_Retryable(t *testing.T) {
	assert.True(t, (&ProviderError{Kind: KindRateLimit}).Retryable())
	assert.True(t, apperr.IsRetryable(newProviderError(KindTimeout, "x", errors.New("t"))))
	assert.False(t, (&ProviderError{Kind: KindAuth}).Retryable())
	assert.Contains(t, (&ProviderError{Kind: KindAuth, Provider: "openai", StatusCode: 401, Err: errors.New("bad key")}).Error(), "status 401")
}
