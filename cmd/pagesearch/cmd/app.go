package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/logging"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/internal/telemetry"
)

// app is the wired set of components one command works with.
type app struct {
	cfg         *config.Config
	store       *store.SQLiteStore
	pipeline    *index.Pipeline
	engine      *search.Engine
	coordinator *index.Coordinator

	// embedders were created by this app and are closed with it.
	embedders []embed.Embedder

	// queries and queryStore are nil when search.telemetry is off.
	queries    *telemetry.Metrics
	queryStore *telemetry.Store
}

// loadConfig loads the layered config and applies --data-dir. Outside
// --debug, the configured log level replaces the default.
func loadConfig() (*config.Config, error) {
	cfg, err := loadWithOverrides(configPath)
	if err != nil {
		return nil, err
	}

	if !debugMode && cfg.Logging.Level != "" {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		if logger, _, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
		}
	}
	return cfg, nil
}

// openApp loads the config and opens the store, the pipeline, the search
// engine and the coordinator tying them to the active provider.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openAppWith(ctx, cfg)
}

func openAppWith(ctx context.Context, cfg *config.Config) (*app, error) {
	emb, err := embed.New(cfg.EmbedOptions())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Options{
		Path:           filepath.Join(cfg.DataDir, store.DefaultDBName),
		Dimension:      cfg.Embeddings.Dimensions,
		Model:          emb.ModelName(),
		LexicalBackend: store.LexicalBackend(cfg.Search.LexicalBackend),
		BlevePath:      cfg.DataDir,
	})
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	ts := openTelemetry(ctx, cfg)
	a, err := wire(cfg, st, emb, ts)
	if err != nil {
		if ts != nil {
			_ = ts.Close()
		}
		_ = st.Close()
		_ = emb.Close()
		return nil, err
	}
	return a, nil
}

// openTelemetry returns nil when telemetry is off or its database cannot
// be opened. Searching never depends on it.
func openTelemetry(ctx context.Context, cfg *config.Config) *telemetry.Store {
	if !cfg.Search.Telemetry {
		return nil
	}
	ts, err := telemetry.OpenStore(ctx, filepath.Join(cfg.DataDir, telemetry.DefaultDBName))
	if err != nil {
		slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return nil
	}
	return ts
}

func wire(cfg *config.Config, st *store.SQLiteStore, emb embed.Embedder, ts *telemetry.Store) (*app, error) {
	policy, err := index.NewSummaryPolicy(cfg.Indexing.SummaryPolicy)
	if err != nil {
		return nil, err
	}
	p, err := index.NewPipeline(st, emb, cfg.IndexConfig(), index.WithSummaryPolicy(policy))
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		store:     st,
		pipeline:  p,
		embedders: []embed.Embedder{emb},
	}

	var opts []search.EngineOption
	if ts != nil {
		a.queryStore = ts
		a.queries = telemetry.NewMetrics(ts)
		opts = append(opts, search.WithObserver(a.recordQuery))
	}
	engine, err := search.NewEngine(st, emb, cfg.Search, opts...)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	a.coordinator = index.NewCoordinator(st, p, engine)
	return a, nil
}

func (a *app) recordQuery(resp *search.Response) {
	mode := telemetry.ModeHybrid
	switch {
	case resp.LexicalOnly:
		mode = telemetry.ModeLexicalOnly
	case resp.Notice != "":
		mode = telemetry.ModePartial
	}
	a.queries.Record(telemetry.QueryEvent{
		Query:   resp.Query,
		Mode:    mode,
		Results: len(resp.Results),
		Latency: resp.Took,
	})
}

// querySummary reports stored and pending query statistics. ok is false
// when telemetry is off.
func (a *app) querySummary(ctx context.Context, topN int) (sum telemetry.Summary, ok bool, err error) {
	if a.queryStore == nil {
		return telemetry.Summary{}, false, nil
	}
	if err := a.queries.Flush(ctx); err != nil {
		return telemetry.Summary{}, true, err
	}
	sum, err = a.queryStore.Summary(ctx, topN)
	return sum, true, err
}

// switchProvider builds the provider described by cfg and applies it
// together with cfg's chunking settings.
func (a *app) switchProvider(ctx context.Context, cfg *config.Config) (index.Reconfiguration, error) {
	emb, err := embed.New(cfg.EmbedOptions())
	if err != nil {
		return index.Reconfiguration{}, err
	}
	rc, err := a.coordinator.ApplySettings(ctx, cfg.IndexConfig(), emb)
	if err != nil {
		_ = emb.Close()
		return index.Reconfiguration{}, err
	}
	a.embedders = append(a.embedders, emb)
	a.cfg = cfg
	return rc, nil
}

// Close flushes query statistics, then closes the providers and the
// stores. The page store checkpoints on close, so committed pages are in
// the main database file afterwards.
func (a *app) Close() error {
	errs := make([]error, 0, len(a.embedders)+3)
	if a.queryStore != nil {
		if err := a.queries.Flush(context.Background()); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
		errs = append(errs, a.queryStore.Close())
	}
	for _, emb := range a.embedders {
		errs = append(errs, emb.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
