package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// EmbedderSetter is anything that embeds with the active provider, such
// as the search engine.
type EmbedderSetter interface {
	SetEmbedder(embed.Embedder)
}

// Reconfiguration reports what ApplySettings changed.
type Reconfiguration struct {
	PreviousDimension int
	Dimension         int
	PagesFlagged      int
	Model             string
}

// ReindexReport summarizes a ReindexPending run.
type ReindexReport struct {
	Reembedded int
	Skipped    int
	Failed     int
}

// Coordinator applies settings changes to the store, the pipeline and
// every EmbedderSetter.
type Coordinator struct {
	store       Store
	pipeline    *Pipeline
	targets     []EmbedderSetter
	newEmbedder func(embed.Options) (embed.Embedder, error)

	// mu serializes settings changes.
	mu sync.Mutex
}

// NewCoordinator creates a coordinator. targets are re-pointed to the new
// provider on every change.
func NewCoordinator(st Store, p *Pipeline, targets ...EmbedderSetter) *Coordinator {
	return &Coordinator{
		store:       st,
		pipeline:    p,
		targets:     targets,
		newEmbedder: embed.New,
	}
}

// SetEmbedderFactory replaces embed.New in Watch.
func (c *Coordinator) SetEmbedderFactory(fn func(embed.Options) (embed.Embedder, error)) {
	if fn != nil {
		c.newEmbedder = fn
	}
}

// ApplySettings waits for in-flight jobs, drops vectors of another
// dimension when cfg.Dimension changed, and re-points the pipeline and
// targets to emb. Jobs submitted meanwhile start afterwards with the new
// settings. A nil emb disables embeddings.
func (c *Coordinator) ApplySettings(ctx context.Context, cfg config.IndexConfig, emb embed.Embedder) (Reconfiguration, error) {
	if emb == nil {
		emb = embed.NewDisabled(cfg.Dimension)
	}
	if err := cfg.ChunkOptions().Validate(); err != nil {
		return Reconfiguration{}, err
	}
	if cfg.Dimension <= 0 {
		return Reconfiguration{}, apperr.ConfigError(fmt.Sprintf("dimension must be positive, got %d", cfg.Dimension), nil)
	}
	if !embed.IsDisabled(emb) && emb.Dimensions() != cfg.Dimension {
		return Reconfiguration{}, apperr.ConfigError(fmt.Sprintf("provider %s returns %d dimensions, settings say %d",
			emb.ModelName(), emb.Dimensions(), cfg.Dimension), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rc := Reconfiguration{Dimension: cfg.Dimension, Model: emb.ModelName()}
	err := c.pipeline.Exclusive(func() error {
		rc.PreviousDimension = c.store.Dimension()
		if cfg.Dimension != rc.PreviousDimension {
			flagged, err := c.store.ReconfigureDimension(ctx, cfg.Dimension)
			if err != nil {
				return err
			}
			rc.PagesFlagged = flagged
		}
		if err := c.pipeline.Repoint(cfg, emb); err != nil {
			return err
		}
		for _, t := range c.targets {
			t.SetEmbedder(emb)
		}
		return nil
	})
	if err != nil {
		return Reconfiguration{}, err
	}

	slog.Info("settings_applied",
		slog.String("model", rc.Model),
		slog.Int("previous_dimension", rc.PreviousDimension),
		slog.Int("dimension", rc.Dimension),
		slog.Int("pages_flagged", rc.PagesFlagged),
		slog.Int("chunk_size", cfg.ChunkSize),
		slog.Int("chunk_overlap", cfg.ChunkOverlap))
	return rc, nil
}

// ReindexPending re-embeds up to limit flagged pages from their stored
// text, most recently visited first. limit <= 0 means all. Individual
// failures are counted and logged; only store and context errors stop the
// run.
func (c *Coordinator) ReindexPending(ctx context.Context, limit int) (ReindexReport, error) {
	var report ReindexReport
	if embed.IsDisabled(c.pipeline.Embedder()) {
		return report, nil
	}

	pages, err := c.store.PagesNeedingReindex(ctx, limit)
	if err != nil {
		return report, err
	}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out, err := c.pipeline.Reembed(ctx, page.ID)
		switch {
		case err != nil:
			report.Failed++
		case out.Result == ResultSkipped:
			report.Skipped++
		default:
			report.Reembedded++
		}
	}

	slog.Info("reindex_pending_complete",
		slog.Int("pages", len(pages)),
		slog.Int("reembedded", report.Reembedded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report, nil
}

// Watch applies every provider or chunking change from w until ctx is
// done. A change whose provider cannot be built, or which fails to apply,
// is logged and the previous settings stay active. After a dimension
// change the flagged pages are re-embedded.
func (c *Coordinator) Watch(ctx context.Context, w *config.Watcher) error {
	var owned embed.Embedder
	defer func() {
		if owned != nil {
			_ = owned.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change := <-w.Changes():
			if !change.ProviderChanged() && !change.ChunkingChanged() {
				continue
			}

			emb, err := c.newEmbedder(change.New.EmbedOptions())
			if err != nil {
				slog.Warn("settings_change_rejected", apperrAttrs(err)...)
				continue
			}
			rc, err := c.ApplySettings(ctx, change.New.IndexConfig(), emb)
			if err != nil {
				_ = emb.Close()
				slog.Warn("settings_change_rejected", apperrAttrs(err)...)
				continue
			}
			if owned != nil {
				_ = owned.Close()
			}
			owned = emb

			if rc.PagesFlagged > 0 {
				if _, err := c.ReindexPending(ctx, 0); err != nil {
					slog.Warn("reindex_pending_failed", apperrAttrs(err)...)
				}
			}
		}
	}
}

func apperrAttrs(err error) []any {
	attrs := apperr.LogAttrs(err)
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
