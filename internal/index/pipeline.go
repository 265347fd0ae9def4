package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/pagesearch/internal/chunk"
	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// Pipeline indexes one page at a time per URL. It keeps no state of its
// own beyond the active provider and chunk settings.
type Pipeline struct {
	store   Store
	tracker *Tracker
	now     func() time.Time

	// inflight coalesces concurrent jobs for the same URL. flights holds
	// the context those jobs run under, cancelled once no caller waits.
	inflight singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight

	// gate is held shared by every job and exclusively by Exclusive.
	gate sync.RWMutex

	mu       sync.RWMutex
	cfg      config.IndexConfig
	embedder embed.Embedder
	chunker  *chunk.Chunker
	summary  SummaryPolicy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSummaryPolicy replaces the default first-chunk summary.
func WithSummaryPolicy(policy SummaryPolicy) Option {
	return func(p *Pipeline) {
		if policy != nil {
			p.summary = policy
		}
	}
}

// WithTracker shares a tracker, e.g. with the Scheduler's status output.
func WithTracker(t *Tracker) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracker = t
		}
	}
}

// WithClock overrides time.Now for visit timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline creates a pipeline writing to st. A nil embedder indexes
// text only.
func NewPipeline(st Store, emb embed.Embedder, cfg config.IndexConfig, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, apperr.InternalError("pipeline requires a store", nil)
	}
	p := &Pipeline{
		store:   st,
		tracker: NewTracker(DefaultTrackerCapacity),
		now:     time.Now,
		summary: FirstChunkSummary{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Repoint(cfg, emb); err != nil {
		return nil, err
	}
	return p, nil
}

// Repoint switches provider and chunk settings for jobs that start after
// it returns. Running jobs keep what they started with.
func (p *Pipeline) Repoint(cfg config.IndexConfig, emb embed.Embedder) error {
	chunker, err := chunk.New(cfg.ChunkOptions())
	if err != nil {
		return err
	}
	if emb == nil {
		emb = embed.NewDisabled(cfg.Dimension)
	}
	if !embed.IsDisabled(emb) && emb.Dimensions() != cfg.Dimension {
		return apperr.ConfigError(fmt.Sprintf("provider %s returns %d dimensions, settings say %d",
			emb.ModelName(), emb.Dimensions(), cfg.Dimension), nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.embedder = emb
	p.chunker = chunker
	return nil
}

// Config returns the active index settings.
func (p *Pipeline) Config() config.IndexConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Embedder returns the active provider.
func (p *Pipeline) Embedder() embed.Embedder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.embedder
}

// Tracker returns the job tracker.
func (p *Pipeline) Tracker() *Tracker { return p.tracker }

// Exclusive runs fn once every in-flight job has finished. Jobs started
// meanwhile wait for fn to return.
func (p *Pipeline) Exclusive(fn func() error) error {
	p.gate.Lock()
	defer p.gate.Unlock()
	return fn()
}

// IndexPage records the visit and indexes pc. A call for a URL that is
// already being indexed joins that job and receives its outcome. Failures
// are *PipelineFailure and leave the previous entry untouched; the visit is
// recorded regardless.
func (p *Pipeline) IndexPage(ctx context.Context, pc PageContext) (Outcome, error) {
	pc.URL = strings.TrimSpace(pc.URL)
	if pc.URL == "" {
		return Outcome{}, apperr.New(apperr.ErrCodeInvalidPage, "page URL is empty", nil)
	}
	visited := pc.VisitedAt
	if visited.IsZero() {
		visited = p.now()
	}
	if _, err := p.store.RecordVisit(ctx, pc.URL, pc.Title, visited); err != nil {
		return Outcome{}, fail(StateExtracting, pc.URL, err)
	}

	return p.coalesce(ctx, pc.URL, func(jobCtx context.Context) (Outcome, error) {
		return p.index(jobCtx, pc)
	})
}

// Reembed recomputes the vectors of a stored page from its stored title,
// summary and chunks. It serves pages flagged by a dimension change.
func (p *Pipeline) Reembed(ctx context.Context, pageID string) (Outcome, error) {
	page, err := p.store.GetPage(ctx, pageID)
	if err != nil {
		return Outcome{}, err
	}
	return p.coalesce(ctx, page.URL, func(jobCtx context.Context) (Outcome, error) {
		return p.reembed(jobCtx, page.ID, page.URL)
	})
}

// flight is the shared context of one coalesced job and the number of
// callers waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// coalesce runs job unless one is already running for key, in which case
// the caller joins it. The job does not inherit any caller's cancellation:
// a caller that gives up returns at once and the job is cancelled only
// when the last waiting caller has left. That caller waits for the job to
// unwind so no work outlives every caller.
func (p *Pipeline) coalesce(ctx context.Context, key string, job func(context.Context) (Outcome, error)) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		f, ch := p.join(ctx, key, job)
		select {
		case r := <-ch:
			// A cancellation this caller did not cause comes from a job
			// whose callers all gave up before this one joined it.
			stale := r.Err != nil && errors.Is(r.Err, context.Canceled) &&
				ctx.Err() == nil && f.ctx.Err() == nil
			p.leave(key, f)
			if stale && attempt == 0 {
				continue
			}
			if r.Err != nil {
				return Outcome{}, r.Err
			}
			out := r.Val.(Outcome)
			out.Shared = r.Shared
			return out, nil
		case <-ctx.Done():
			if p.leave(key, f) {
				if r := <-ch; r.Err == nil {
					out := r.Val.(Outcome)
					out.Shared = r.Shared
					return out, nil
				}
			}
			return Outcome{}, fail(StateIdle, key, ctx.Err())
		}
	}
}

func (p *Pipeline) join(ctx context.Context, key string, job func(context.Context) (Outcome, error)) (*flight, <-chan singleflight.Result) {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if p.flights == nil {
		p.flights = make(map[string]*flight)
	}
	f, ok := p.flights[key]
	if !ok {
		jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: jobCtx, cancel: cancel}
		p.flights[key] = f
	}
	f.waiters++
	ch := p.inflight.DoChan(key, func() (any, error) {
		return job(f.ctx)
	})
	return f, ch
}

// leave drops one waiter from f and reports whether it was the last, in
// which case the job's context is cancelled.
func (p *Pipeline) leave(key string, f *flight) bool {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel()
	if p.flights[key] == f {
		delete(p.flights, key)
	}
	return true
}

func (p *Pipeline) snapshot() (embed.Embedder, *chunk.Chunker, SummaryPolicy) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.embedder, p.chunker, p.summary
}

func (p *Pipeline) index(ctx context.Context, pc PageContext) (out Outcome, err error) {
	p.gate.RLock()
	defer p.gate.RUnlock()

	emb, chunker, summary := p.snapshot()
	url := pc.URL
	start := time.Now()
	p.tracker.begin(url)
	defer func() { p.finish(url, start, &out, err) }()

	p.tracker.transition(url, StateExtracting)
	if err := ctx.Err(); err != nil {
		return Outcome{}, fail(StateExtracting, url, err)
	}
	title := strings.Join(strings.Fields(pc.Title), " ")
	hash := contentHash(title, pc.Text, pc.Synopsis, summary.Name(), chunker.Options())
	textOnly := embed.IsDisabled(emb)

	existing, err := p.store.GetPageByURL(ctx, url)
	if err != nil && !store.IsNotFound(err) {
		return Outcome{}, fail(StateExtracting, url, err)
	}
	if existing != nil && p.isCurrent(existing, hash, textOnly) {
		return Outcome{URL: url, PageID: existing.ID, Result: ResultSkipped}, nil
	}

	p.tracker.transition(url, StateChunking)
	chunks := chunker.Split(pc.Text)
	write := store.PageWrite{
		URL:         url,
		Title:       title,
		Summary:     summary.Summarize(pc, chunks),
		ContentHash: hash,
		Chunks:      make([]store.ChunkText, len(chunks)),
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		write.Chunks[i] = store.ChunkText{Seq: c.Seq, Text: c.Text, TokenCount: c.TokenCount}
		texts[i] = c.Text
	}

	result := ResultTextOnly
	if !textOnly {
		p.tracker.transition(url, StateEmbedding)
		titleVec, summaryVec, chunkVecs, err := p.embedPage(ctx, emb, url, title, write.Summary, texts)
		if err != nil {
			return Outcome{}, fail(StateEmbedding, url, err)
		}
		write.TitleVec, write.SummaryVec, write.ChunkVecs = titleVec, summaryVec, chunkVecs
		result = ResultIndexed
	}

	p.tracker.transition(url, StatePersisting)
	id, err := p.store.IndexPage(ctx, write)
	if err != nil {
		return Outcome{}, fail(StatePersisting, url, err)
	}
	return Outcome{URL: url, PageID: id, Result: result, Chunks: len(chunks)}, nil
}

func (p *Pipeline) reembed(ctx context.Context, pageID, url string) (out Outcome, err error) {
	p.gate.RLock()
	defer p.gate.RUnlock()

	emb, _, _ := p.snapshot()
	start := time.Now()
	p.tracker.begin(url)
	defer func() { p.finish(url, start, &out, err) }()

	p.tracker.transition(url, StateExtracting)
	page, err := p.store.GetPage(ctx, pageID)
	if err != nil {
		return Outcome{}, fail(StateExtracting, url, err)
	}
	if embed.IsDisabled(emb) || (!page.NeedsReindex && page.Dimension == p.store.Dimension()) {
		return Outcome{URL: url, PageID: page.ID, Result: ResultSkipped}, nil
	}

	p.tracker.transition(url, StateChunking)
	stored, err := p.store.ChunksForPage(ctx, page.ID)
	if err != nil {
		return Outcome{}, fail(StateChunking, url, err)
	}
	write := store.PageWrite{
		URL:         page.URL,
		Title:       page.Title,
		Summary:     page.Summary,
		ContentHash: page.ContentHash,
		Chunks:      make([]store.ChunkText, len(stored)),
	}
	texts := make([]string, len(stored))
	for i, c := range stored {
		write.Chunks[i] = store.ChunkText{Seq: c.Seq, Text: c.Text, TokenCount: c.TokenCount}
		texts[i] = c.Text
	}

	p.tracker.transition(url, StateEmbedding)
	write.TitleVec, write.SummaryVec, write.ChunkVecs, err = p.embedPage(ctx, emb, url, page.Title, page.Summary, texts)
	if err != nil {
		return Outcome{}, fail(StateEmbedding, url, err)
	}

	p.tracker.transition(url, StatePersisting)
	if _, err := p.store.IndexPage(ctx, write); err != nil {
		return Outcome{}, fail(StatePersisting, url, err)
	}
	return Outcome{URL: url, PageID: page.ID, Result: ResultIndexed, Chunks: len(stored)}, nil
}

// isCurrent reports whether the stored entry already reflects this content
// under the active settings. Without a provider only the text matters.
func (p *Pipeline) isCurrent(page *store.Page, hash string, textOnly bool) bool {
	if page.ContentHash != hash {
		return false
	}
	if textOnly {
		return true
	}
	return !page.NeedsReindex && page.Dimension == p.store.Dimension()
}

// embedPage embeds title, summary and chunks in one batch. Empty titles
// fall back to the URL and empty summaries to the title.
func (p *Pipeline) embedPage(ctx context.Context, emb embed.Embedder, url, title, summary string, chunks []string) (titleVec, summaryVec []float32, chunkVecs [][]float32, err error) {
	if dims := p.store.Dimension(); emb.Dimensions() != dims {
		return nil, nil, nil, store.ErrDimensionMismatch{Expected: dims, Got: emb.Dimensions(), Field: "provider"}
	}

	titleText := title
	if titleText == "" {
		titleText = url
	}
	summaryText := summary
	if summaryText == "" {
		summaryText = titleText
	}

	texts := make([]string, 0, len(chunks)+2)
	texts = append(texts, titleText, summaryText)
	texts = append(texts, chunks...)

	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(vecs) != len(texts) {
		return nil, nil, nil, &embed.ProviderError{
			Kind:     embed.KindMalformedResponse,
			Provider: emb.ModelName(),
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)),
		}
	}
	return vecs[0], vecs[1], vecs[2:], nil
}

func (p *Pipeline) finish(url string, start time.Time, out *Outcome, err error) {
	elapsed := time.Since(start)
	if err != nil {
		p.tracker.fail(url, err)
		attrs := append([]any{slog.String("url", url), slog.Duration("duration", elapsed)}, apperrAttrs(err)...)
		slog.Warn("index_page_failed", attrs...)
		return
	}

	out.Duration = elapsed
	p.tracker.done(url, out.Result)
	level := slog.LevelInfo
	if out.Result == ResultSkipped {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "index_page_complete",
		slog.String("url", url),
		slog.String("result", string(out.Result)),
		slog.Int("chunks", out.Chunks),
		slog.Duration("duration", elapsed))
}

// contentHash fingerprints everything that shapes a page's entry apart
// from the provider.
func contentHash(title, text, synopsis, policy string, opts chunk.Options) string {
	h := sha256.New()
	for _, part := range []string{
		title,
		chunk.Normalize(text),
		strings.Join(strings.Fields(synopsis), " "),
		policy,
		fmt.Sprintf("%d/%d", opts.MaxTokens, opts.OverlapTokens),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
