package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// Feature weights for the hash embedder.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// LocalEmbedder is the on-device provider: a deterministic feature-hashing
// embedder over word tokens and character trigrams. It needs no model or
// network, so it is always available.
type LocalEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates a hash embedder producing dims-sized vectors
// (LocalDimensions when dims <= 0).
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = LocalDimensions
	}
	return &LocalEmbedder{dims: dims}
}

// Embed hashes text into a unit vector. Blank text yields the zero vector.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, newProviderError(KindUnavailable, string(ProviderLocal), fmt.Errorf("embedder is closed"))
	}

	vector := make([]float32, e.dims)
	for _, token := range wordTokens(text) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	normalized := lettersAndDigits(text)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		vector[hashToIndex(string(normalized[i:i+ngramSize]), e.dims)] += ngramWeight
	}
	return normalizeVector(vector), nil
}

// EmbedBatch embeds each text in order.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the vector size.
func (e *LocalEmbedder) Dimensions() int { return e.dims }

// ModelName returns "local/hash-<dims>".
func (e *LocalEmbedder) ModelName() string { return fmt.Sprintf("local/hash-%d", e.dims) }

// Available is true until Close.
func (e *LocalEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// wordTokens lowercases text and splits it on anything but letters and digits.
func wordTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func lettersAndDigits(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
