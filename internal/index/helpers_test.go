package index

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

const testDims = 16

const foxText = "The quick brown fox jumps over the lazy dog"

func newTestStore(t *testing.T, dims int) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Dimension: dims, Model: "test/model"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig(dims int) config.IndexConfig {
	return config.IndexConfig{
		Provider:     embed.ProviderLocal,
		Dimension:    dims,
		ChunkSize:    5,
		ChunkOverlap: 2,
	}
}

func newTestPipeline(t *testing.T, st Store, emb embed.Embedder, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(st, emb, testConfig(st.Dimension()), opts...)
	require.NoError(t, err)
	return p
}

// fakeEmbedder delegates to the local embedder and can fail, block, and
// count concurrent calls.
type fakeEmbedder struct {
	inner *embed.LocalEmbedder

	// failures is the number of leading calls that fail with failKind.
	failures atomic.Int32
	failKind embed.ErrorKind

	// release, when set, blocks EmbedBatch until closed or ctx is done.
	release chan struct{}
	started chan struct{}

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32

	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeEmbedder(dims int) *fakeEmbedder {
	return &fakeEmbedder{
		inner:   embed.NewLocalEmbedder(dims),
		started: make(chan struct{}, 64),
	}
}

func (f *fakeEmbedder) blocking() *fakeEmbedder {
	f.release = make(chan struct{})
	return f
}

func (f *fakeEmbedder) failing(n int, kind embed.ErrorKind) *fakeEmbedder {
	f.failures.Store(int32(n))
	f.failKind = kind
	return f
}

func (f *fakeEmbedder) unblock() {
	f.closeOnce.Do(func() { close(f.release) })
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	f.started <- struct{}{}

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &embed.ProviderError{Kind: embed.KindTimeout, Provider: "fake", Err: ctx.Err()}
		}
	}
	if f.failures.Add(-1) >= 0 {
		return nil, &embed.ProviderError{Kind: f.failKind, Provider: "fake", Err: errFake}
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *fakeEmbedder) Dimensions() int                { return f.inner.Dimensions() }
func (f *fakeEmbedder) ModelName() string              { return "fake/test" }
func (f *fakeEmbedder) Available(context.Context) bool { return true }

func (f *fakeEmbedder) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFake = fakeError("provider exploded")

// recordingSetter captures re-pointed embedders.
type recordingSetter struct {
	mu  sync.Mutex
	got []embed.Embedder
}

func (r *recordingSetter) SetEmbedder(e embed.Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
}

func (r *recordingSetter) last() embed.Embedder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return nil
	}
	return r.got[len(r.got)-1]
}

func chunkTextsOf(t *testing.T, st *store.SQLiteStore, pageID string) []string {
	t.Helper()
	chunks, err := st.ChunksForPage(context.Background(), pageID)
	require.NoError(t, err)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
