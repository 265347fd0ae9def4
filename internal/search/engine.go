package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Notices attached to degraded responses.
const (
	NoticeSemanticOff         = "semantic search is turned off; showing keyword matches only"
	NoticeSemanticUnavailable = "semantic search is unavailable right now; showing keyword matches only"
	NoticeDimensionMismatch   = "the index is being rebuilt for a new embedding model; showing keyword matches only"
)

// Engine runs hybrid searches. It holds no persistent state of its own and
// is safe for concurrent use, including concurrently with indexing.
type Engine struct {
	store    Store
	breaker  *apperr.CircuitBreaker
	now      func() time.Time
	observer func(*Response)

	mu       sync.RWMutex
	embedder embed.Embedder
	cfg      config.SearchConfig
	fusion   *RRFFusion
	ranker   Ranker
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithClock overrides the time used for recency decay.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCircuitBreaker replaces the breaker guarding query embedding.
func WithCircuitBreaker(cb *apperr.CircuitBreaker) EngineOption {
	return func(e *Engine) {
		if cb != nil {
			e.breaker = cb
		}
	}
}

// WithObserver registers fn to receive every completed non-empty query.
// fn runs on the searching goroutine.
func WithObserver(fn func(*Response)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

// NewEngine creates a search engine over st. A nil embedder runs every
// query lexical-only.
func NewEngine(st Store, emb embed.Embedder, cfg config.SearchConfig, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrNilDependency)
	}
	e := &Engine{
		store:   st,
		breaker: apperr.NewCircuitBreaker("query_embedding"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetEmbedder(emb)
	e.Configure(cfg)
	return e, nil
}

// SetEmbedder switches the provider used for query embedding and closes
// the breaker so the new provider gets a fresh chance.
func (e *Engine) SetEmbedder(emb embed.Embedder) {
	if emb == nil {
		emb = embed.NewDisabled(e.store.Dimension())
	}
	e.mu.Lock()
	e.embedder = emb
	e.mu.Unlock()
	e.breaker.Reset()
}

// Embedder returns the current query embedder.
func (e *Engine) Embedder() embed.Embedder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.embedder
}

// Configure replaces the ranking settings. Zero values fall back to
// defaults.
func (e *Engine) Configure(cfg config.SearchConfig) {
	defaults := config.NewConfig().Search
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = defaults.RRFConstant
	}
	if cfg.PoolFactor < 1 {
		cfg.PoolFactor = defaults.PoolFactor
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaults.MaxResults
	}
	if cfg.Weights == (config.ListWeights{}) {
		cfg.Weights = defaults.Weights
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.fusion = NewRRFFusion(cfg.RRFConstant)
	e.ranker = NewRanker(cfg)
}

// Search returns up to k pages for query, best first. A k of zero or less
// uses the configured default. An empty query yields an empty response.
//
// Query embedding failures never fail the search: the engine falls back
// to the lexical lists and sets Notice. Store failures in some lists are
// reported the same way; if every list fails the error is returned.
func (e *Engine) Search(ctx context.Context, query string, k int) (*Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	resp := &Response{Query: query, Results: []*Result{}}
	if query == "" {
		return resp, nil
	}

	e.mu.RLock()
	emb, cfg, fusion, ranker := e.embedder, e.cfg, e.fusion, e.ranker
	e.mu.RUnlock()

	if k <= 0 {
		k = cfg.MaxResults
	}
	pool := k * cfg.PoolFactor

	vec, notice, err := e.embedQuery(ctx, emb, query)
	if err != nil {
		return nil, err
	}
	resp.LexicalOnly = vec == nil
	addNotice(resp, notice)

	active := lexicalLists
	if vec != nil {
		active = append(slices.Clone(vectorLists), lexicalLists...)
	}
	lists, err := e.collect(ctx, active, query, vec, pool, cfg.Weights, resp)
	if err != nil {
		return nil, err
	}

	fused := fusion.Fuse(lists)
	results, err := e.rank(ctx, fused, ranker)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	e.attachChunks(ctx, results, resp)

	resp.Results = results
	resp.Took = time.Since(start)
	slog.Debug("search_complete",
		slog.Int("query_len", len(query)),
		slog.Int("k", k),
		slog.Int("candidates", len(fused)),
		slog.Int("results", len(results)),
		slog.Bool("lexical_only", resp.LexicalOnly),
		slog.Duration("took", resp.Took))
	if e.observer != nil {
		e.observer(resp)
	}
	return resp, nil
}

// embedQuery returns nil and a notice when the query must run
// lexical-only. Only cancellation is returned as an error.
func (e *Engine) embedQuery(ctx context.Context, emb embed.Embedder, query string) ([]float32, string, error) {
	if embed.IsDisabled(emb) {
		return nil, NoticeSemanticOff, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	vec, err := apperr.CircuitExecute(e.breaker, func() ([]float32, error) {
		return emb.Embed(ctx, query)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		slog.Warn("query_embedding_failed",
			slog.String("model", emb.ModelName()),
			slog.String("circuit", e.breaker.State().String()),
			slog.String("error", err.Error()))
		return nil, NoticeSemanticUnavailable, nil
	}

	if dims := e.store.Dimension(); len(vec) != dims {
		slog.Warn("query_dimension_mismatch",
			slog.String("model", emb.ModelName()),
			slog.Int("query_dims", len(vec)),
			slog.Int("index_dims", dims))
		return nil, NoticeDimensionMismatch, nil
	}
	return vec, "", nil
}

// collect runs every active list concurrently. Failed lists are dropped
// and named in the notice.
func (e *Engine) collect(
	ctx context.Context,
	active []List,
	query string,
	vec []float32,
	pool int,
	weights config.ListWeights,
	resp *Response,
) ([]RankedList, error) {
	hits := make([][]store.Hit, len(active))
	errs := make([]error, len(active))

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range active {
		g.Go(func() error {
			// Failures are per list; never cancel the siblings.
			if l.IsLexical() {
				hits[i], errs[i] = e.store.LexicalSearch(gctx, query, l.scope(), pool)
			} else {
				hits[i], errs[i] = e.store.VectorSearch(gctx, vec, l.scope(), pool)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lists := make([]RankedList, 0, len(active))
	var failed []string
	var failures []error
	for i, l := range active {
		if errs[i] != nil {
			slog.Warn("search_list_failed",
				slog.String("list", string(l)),
				slog.String("code", apperr.GetCode(errs[i])),
				slog.String("error", errs[i].Error()))
			failed = append(failed, string(l))
			failures = append(failures, errs[i])
			continue
		}
		lists = append(lists, RankedList{List: l, Weight: listWeight(weights, l), Hits: hits[i]})
	}

	if len(failures) == len(active) {
		return nil, apperr.New(apperr.ErrCodeSearchFailed, "every search list failed", errors.Join(failures...))
	}
	if len(failed) > 0 {
		addNotice(resp, "some results may be missing: "+strings.Join(failed, ", ")+" search failed")
	}
	return lists, nil
}

// rank loads the fused pages and orders them by final score, then newer
// visit, then URL. Pages deleted since the lists ran are dropped.
func (e *Engine) rank(ctx context.Context, fused []*FusedPage, ranker Ranker) ([]*Result, error) {
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.PageID
	}
	pages, err := e.store.GetPages(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		page, ok := pages[f.PageID]
		if !ok {
			continue
		}
		score, decay, boost := ranker.Apply(f.Score, page.LastVisited, now, page.VisitCount)
		r := &Result{
			Page:      page,
			Score:     score,
			Fused:     f.Score,
			Decay:     decay,
			Boost:     boost,
			Ranks:     f.Ranks,
			MatchedBy: matchedBy(f.Ranks),
			chunkID:   f.ChunkID,
		}
		results = append(results, r)
	}

	slices.SortStableFunc(results, func(a, b *Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.Page.LastVisited.Compare(a.Page.LastVisited); c != 0 {
			return c
		}
		return cmp.Compare(a.Page.URL, b.Page.URL)
	})
	return results, nil
}

// attachChunks loads the best chunk of each returned page. A chunk that
// vanished under a concurrent reindex is left off.
func (e *Engine) attachChunks(ctx context.Context, results []*Result, resp *Response) {
	var failed bool
	for _, r := range results {
		if r.chunkID == 0 {
			continue
		}
		c, err := e.store.GetChunk(ctx, r.chunkID)
		if err != nil {
			if !store.IsNotFound(err) {
				slog.Warn("search_chunk_load_failed",
					slog.Int64("chunk_id", r.chunkID),
					slog.String("error", err.Error()))
				failed = true
			}
			continue
		}
		r.Chunk = c
	}
	if failed {
		addNotice(resp, "some matching passages could not be loaded")
	}
}

func matchedBy(ranks map[List]int) []List {
	out := make([]List, 0, len(ranks))
	for _, l := range vectorLists {
		if _, ok := ranks[l]; ok {
			out = append(out, l)
		}
	}
	for _, l := range lexicalLists {
		if _, ok := ranks[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

func listWeight(w config.ListWeights, l List) float64 {
	switch l {
	case ListTitle:
		return w.Title
	case ListSummary:
		return w.Summary
	case ListChunk:
		return w.Chunk
	case ListLexicalPage:
		return w.LexicalPage
	case ListLexicalChunk:
		return w.LexicalChunk
	default:
		return 0
	}
}

func addNotice(resp *Response, notice string) {
	switch {
	case notice == "":
	case resp.Notice == "":
		resp.Notice = notice
	default:
		resp.Notice += "; " + notice
	}
}
