// Package embed turns text into fixed-dimension vectors.
//
// Every backend sits behind the Embedder interface; endpoint and
// credential details stay inside each variant. Remote variants bound every
// call with a timeout and report failures as *ProviderError.
package embed

import (
	"context"
	"math"
	"strings"
	"time"
)

// ProviderKind selects an embedding backend.
type ProviderKind string

const (
	// ProviderOpenAI is an OpenAI-style remote API.
	ProviderOpenAI ProviderKind = "openai"
	// ProviderOllama is an Ollama server.
	ProviderOllama ProviderKind = "ollama"
	// ProviderLocal is the on-device hash embedder.
	ProviderLocal ProviderKind = "local"
	// ProviderCustom is a user-defined HTTP endpoint.
	ProviderCustom ProviderKind = "custom"
	// ProviderNone disables embeddings; indexing and search stay lexical.
	ProviderNone ProviderKind = "none"
)

// ParseProviderKind maps a settings value to a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch k := ProviderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ProviderOpenAI, ProviderOllama, ProviderLocal, ProviderCustom, ProviderNone:
		return k, true
	case "":
		return ProviderLocal, true
	default:
		return "", false
	}
}

// ValidProviders lists every accepted provider name.
func ValidProviders() []string {
	return []string{
		string(ProviderOpenAI), string(ProviderOllama), string(ProviderLocal),
		string(ProviderCustom), string(ProviderNone),
	}
}

const (
	// DefaultBatchSize is the number of texts sent per remote request.
	DefaultBatchSize = 32

	// MaxBatchSize caps remote request size.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single remote request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries for transient failures.
	DefaultMaxRetries = 2

	// NoRetries disables retries in a provider config, where zero
	// selects DefaultMaxRetries.
	NoRetries = -1

	// LocalDimensions is the default vector size of the local embedder.
	LocalDimensions = 384
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order. Any failure fails the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length every call produces.
	Dimensions() int

	// ModelName identifies the provider and model, e.g. "ollama/nomic-embed-text".
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// IsDisabled reports whether e produces no vectors at all.
func IsDisabled(e Embedder) bool {
	if e == nil {
		return true
	}
	_, ok := e.(*Disabled)
	if ok {
		return true
	}
	if c, ok := e.(*CachedEmbedder); ok {
		return IsDisabled(c.inner)
	}
	return false
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(in [][]float64) [][]float32 {
	out := make([][]float32, len(in))
	for i, emb := range in {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = normalizeVector(vec)
	}
	return out
}

// checkVectors enforces the batch contract: one vector per input, each of
// the declared dimension.
func checkVectors(provider string, dims, want int, vecs [][]float32) error {
	if len(vecs) != want {
		return newProviderError(KindMalformedResponse, provider,
			errorf("expected %d embeddings, got %d", want, len(vecs)))
	}
	for i, v := range vecs {
		if len(v) != dims {
			return newProviderError(KindDimensionMismatch, provider,
				errorf("embedding %d has %d dimensions, provider declares %d", i, len(v), dims))
		}
	}
	return nil
}
