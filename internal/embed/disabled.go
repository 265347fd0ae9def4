package embed

import (
	"context"
	"errors"
)

// ErrNoProvider is the cause carried by every Disabled failure.
var ErrNoProvider = errors.New("no embedding provider configured")

// Disabled stands in when embeddings are turned off. Every call fails with
// KindUnavailable, which sends search down the lexical-only path and lets
// the indexing pipeline store text without vectors.
type Disabled struct {
	dims int
}

var _ Embedder = (*Disabled)(nil)

// NewDisabled returns a Disabled embedder that still reports dims so the
// store keeps its configured dimension.
func NewDisabled(dims int) *Disabled {
	return &Disabled{dims: dims}
}

// Embed always fails.
func (d *Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, newProviderError(KindUnavailable, string(ProviderNone), ErrNoProvider)
}

// EmbedBatch always fails.
func (d *Disabled) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, newProviderError(KindUnavailable, string(ProviderNone), ErrNoProvider)
}

// Dimensions returns the configured dimension.
func (d *Disabled) Dimensions() int { return d.dims }

// ModelName returns "none".
func (d *Disabled) ModelName() string { return string(ProviderNone) }

// Available is always false.
func (d *Disabled) Available(context.Context) bool { return false }

// Close is a no-op.
func (d *Disabled) Close() error { return nil }
