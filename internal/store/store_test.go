package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

const testDims = 4

func newTestStore(t *testing.T, opts ...func(*Options)) *SQLiteStore {
	t.Helper()
	o := Options{
		Path:      filepath.Join(t.TempDir(), DefaultDBName),
		Dimension: testDims,
		Model:     "test/model",
	}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := Open(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(xs ...float32) []float32 { return xs }

func chunkTexts(texts ...string) []ChunkText {
	out := make([]ChunkText, len(texts))
	for i, text := range texts {
		out[i] = ChunkText{Seq: i, Text: text, TokenCount: len(strings.Fields(text))}
	}
	return out
}

// indexFox writes the page used throughout the tests.
func indexFox(t *testing.T, s *SQLiteStore, withVectors bool) string {
	t.Helper()
	w := PageWrite{
		URL:     "https://example.com/fox",
		Title:   "Fox facts",
		Summary: "The quick brown fox jumps",
		Chunks:  chunkTexts("The quick brown fox jumps", "fox jumps over the lazy", "the lazy dog"),
	}
	if withVectors {
		w.TitleVec = vec(1, 0, 0, 0)
		w.SummaryVec = vec(0, 1, 0, 0)
		w.ChunkVecs = [][]float32{vec(1, 1, 0, 0), vec(0, 1, 1, 0), vec(0, 0, 1, 1)}
	}
	id, err := s.IndexPage(context.Background(), w)
	require.NoError(t, err)
	return id
}

// --- TS01: open and state ---

func TestOpen_RecordsDimensionAndModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dim, ok, err := s.GetState(ctx, StateKeyDimension)
	require.NoError(t, err)
	require.True(t, ok)
	got, _ := dim.AsInt()
	assert.Equal(t, int64(testDims), got)

	model, ok, err := s.GetState(ctx, StateKeyModel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, String("test/model"), model)
}

func TestOpen_RejectsInvalidOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{Dimension: 0})
	assert.Equal(t, apperr.ErrCodeConfigInvalid, apperr.GetCode(err))

	_, err = Open(context.Background(), Options{Dimension: 4, LexicalBackend: "lucene"})
	assert.Equal(t, apperr.ErrCodeConfigInvalid, apperr.GetCode(err))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{Dimension: testDims})
	require.NoError(t, err)
	defer s.Close()

	id := indexFox(t, s, true)
	assert.NotEmpty(t, id)
	assert.Equal(t, "", s.Path())
}

func TestOpen_SecondProcessIsLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultDBName)
	s := newTestStore(t, func(o *Options) { o.Path = path })
	require.NotNil(t, s)

	_, err := Open(context.Background(), Options{Path: path, Dimension: testDims})

	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeStoreLocked, apperr.GetCode(err))
	assert.True(t, apperr.IsRetryable(err))
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultDBName)
	ctx := context.Background()

	s, err := Open(ctx, Options{Path: path, Dimension: testDims})
	require.NoError(t, err)
	id := indexFox(t, s, true)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Path: path, Dimension: testDims})
	require.NoError(t, err)
	defer s.Close()

	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testDims, page.Dimension)

	hits, err := s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopeTitle, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1, "graphs are rebuilt from stored vectors")
	assert.Equal(t, id, hits[0].PageID)
}

func TestOpen_DimensionChangeReconfigures(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultDBName)
	ctx := context.Background()

	s, err := Open(ctx, Options{Path: path, Dimension: testDims})
	require.NoError(t, err)
	id := indexFox(t, s, true)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Path: path, Dimension: 8})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 8, s.Dimension())
	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.True(t, page.NeedsReindex)
	assert.False(t, page.HasVectors())
}

func TestState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := Map(map[string]Value{"ok": Bool(true), "n": Int(3), "tags": Array(String("a"))})
	require.NoError(t, s.SetState(ctx, "custom", v))

	got, ok, err := s.GetState(ctx, "custom")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(got))

	_, ok, err = s.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- TS02: page writes ---

func TestUpsertPage_SameURLSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertPage(ctx, "https://a.test", "A", "first")
	require.NoError(t, err)
	id2, err := s.UpsertPage(ctx, "https://a.test", "A2", "second")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	page, err := s.GetPageByURL(ctx, "https://a.test")
	require.NoError(t, err)
	assert.Equal(t, "A2", page.Title)
	assert.Equal(t, "second", page.Summary)
	assert.False(t, page.HasVectors())
}

func TestUpsertPage_EmptyURL(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertPage(context.Background(), "  ", "t", "s")
	assert.Equal(t, apperr.ErrCodeInvalidPage, apperr.GetCode(err))
}

func TestReplaceChunks_SwapsSetAndFlagsPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	require.NoError(t, s.ReplaceChunks(ctx, id, chunkTexts("one", "two")))

	chunks, err := s.ChunksForPage(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Dimension)

	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.True(t, page.NeedsReindex)

	hits, err := s.VectorSearch(ctx, vec(1, 1, 0, 0), ScopeChunk, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "old chunk vectors are gone")
}

func TestReplaceChunks_UnknownPage(t *testing.T) {
	s := newTestStore(t)
	err := s.ReplaceChunks(context.Background(), "nope", chunkTexts("x"))
	assert.True(t, IsNotFound(err))
}

func TestReplaceChunks_ReadersSeeWholeSets(t *testing.T) {
	// Given: a page whose chunk set flips between two shapes
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertPage(ctx, "https://flip.test", "flip", "")
	require.NoError(t, err)
	setA := chunkTexts("a0", "a1", "a2")
	setB := chunkTexts("b0", "b1", "b2", "b3", "b4")
	require.NoError(t, s.ReplaceChunks(ctx, id, setA))

	// When: a writer flips sets while a reader polls
	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			set := setA
			if i%2 == 0 {
				set = setB
			}
			assert.NoError(t, s.ReplaceChunks(ctx, id, set))
		}
		close(done)
	}()

	// Then: every read is fully A or fully B
	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		chunks, err := s.ChunksForPage(ctx, id)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		prefix := chunks[0].Text[:1]
		want := map[string]int{"a": 3, "b": 5}[prefix]
		require.Len(t, chunks, want)
		for _, c := range chunks {
			require.True(t, strings.HasPrefix(c.Text, prefix), "mixed chunk set")
		}
	}
}

func TestSetEmbeddings_WritesVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.UpsertPage(ctx, "https://e.test", "E", "summary")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceChunks(ctx, id, chunkTexts("c0", "c1")))

	err = s.SetEmbeddings(ctx, id, vec(1, 0, 0, 0), vec(0, 1, 0, 0),
		[][]float32{vec(0, 0, 1, 0), vec(0, 0, 0, 1)})
	require.NoError(t, err)

	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.False(t, page.NeedsReindex)
	assert.Equal(t, testDims, page.Dimension)

	hits, err := s.VectorSearch(ctx, vec(0, 0, 0, 1), ScopeChunk, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	chunk, err := s.GetChunk(ctx, hits[0].ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "c1", chunk.Text)
}

func TestSetEmbeddings_DimensionMismatchWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)
	before, err := s.GetPage(ctx, id)
	require.NoError(t, err)

	tests := []struct {
		name    string
		title   []float32
		summary []float32
		chunks  [][]float32
	}{
		{"short title", vec(1, 0), vec(0, 1, 0, 0), [][]float32{vec(1, 0, 0, 0), vec(1, 0, 0, 0), vec(1, 0, 0, 0)}},
		{"long summary", vec(1, 0, 0, 0), vec(0, 1, 0, 0, 0), [][]float32{vec(1, 0, 0, 0), vec(1, 0, 0, 0), vec(1, 0, 0, 0)}},
		{"one bad chunk", vec(0, 0, 0, 1), vec(0, 0, 0, 1), [][]float32{vec(1, 0, 0, 0), vec(1, 0), vec(1, 0, 0, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetEmbeddings(ctx, id, tt.title, tt.summary, tt.chunks)

			require.Error(t, err)
			assert.True(t, IsDimensionMismatch(err))
			assert.Equal(t, apperr.ErrCodeDimensionMismatch, apperr.GetCode(err))

			hits, err := s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopeTitle, 1)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.InDelta(t, 1.0, hits[0].Score, 1e-6, "old title vector still served")

			after, err := s.GetPage(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
		})
	}
}

func TestSetEmbeddings_ChunkCountMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	err := s.SetEmbeddings(ctx, id, vec(1, 0, 0, 0), vec(1, 0, 0, 0), [][]float32{vec(1, 0, 0, 0)})

	require.Error(t, err)
	assert.True(t, apperr.HasCategory(err, apperr.CategoryStore))
}

func TestIndexPage_TextOnlyFlagsReindex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := indexFox(t, s, false)

	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.True(t, page.NeedsReindex)
	assert.False(t, page.HasVectors())

	pending, err := s.PagesNeedingReindex(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestIndexPage_ReindexReplacesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	_, err := s.IndexPage(ctx, PageWrite{
		URL:        "https://example.com/fox",
		Title:      "Fox facts",
		Summary:    "short",
		Chunks:     chunkTexts("short"),
		TitleVec:   vec(1, 0, 0, 0),
		SummaryVec: vec(1, 0, 0, 0),
		ChunkVecs:  [][]float32{vec(0, 0, 0, 1)},
	})
	require.NoError(t, err)

	chunks, err := s.ChunksForPage(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pages)
	assert.Equal(t, 1, st.Chunks)
	assert.Equal(t, 1, st.VectorNodes[ScopeChunk])
}

func TestIndexPage_VectorCountMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IndexPage(context.Background(), PageWrite{
		URL:        "https://x.test",
		Chunks:     chunkTexts("a", "b"),
		TitleVec:   vec(1, 0, 0, 0),
		SummaryVec: vec(1, 0, 0, 0),
		ChunkVecs:  [][]float32{vec(1, 0, 0, 0)},
	})
	require.Error(t, err)
	_, err = s.GetPageByURL(context.Background(), "https://x.test")
	assert.True(t, IsNotFound(err))
}

// --- TS03: visits and bookmarks ---

func TestRecordVisit_CountsAndKeepsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	id, err := s.RecordVisit(ctx, "https://v.test", "V", t1)
	require.NoError(t, err)
	_, err = s.RecordVisit(ctx, "https://v.test", "ignored", t0)
	require.NoError(t, err)

	page, err := s.GetPage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, page.VisitCount)
	assert.True(t, page.LastVisited.Equal(t1), "out-of-order visit does not move lastVisited back")
	assert.Equal(t, "V", page.Title)
}

func TestToggleSaved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.IsSaved(ctx, "https://b.test")
	require.NoError(t, err)
	assert.False(t, saved, "unknown URL is not saved")

	saved, err = s.ToggleSaved(ctx, "https://b.test")
	require.NoError(t, err)
	assert.True(t, saved, "toggling an unknown URL saves it")

	saved, err = s.IsSaved(ctx, "https://b.test")
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = s.ToggleSaved(ctx, "https://b.test")
	require.NoError(t, err)
	assert.False(t, saved)
}

func TestToggleSaved_IndependentOfIndexing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.ToggleSaved(ctx, "https://example.com/fox")
	require.NoError(t, err)

	indexFox(t, s, true)

	saved, err := s.IsSaved(ctx, "https://example.com/fox")
	require.NoError(t, err)
	assert.True(t, saved)
}

// --- TS04: search ---

func TestVectorSearch_RanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	hits, err := s.VectorSearch(ctx, vec(0, 0.1, 1, 1), ScopeChunk, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, id, hits[0].PageID)
	chunk, err := s.GetChunk(ctx, hits[0].ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "the lazy dog", chunk.Text)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestVectorSearch_TiesPreferRecentVisit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i, url := range []string{"https://old.test", "https://new.test"} {
		_, err := s.RecordVisit(ctx, url, "t", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		id, err := s.IndexPage(ctx, PageWrite{
			URL: url, Title: "same", Summary: "same",
			TitleVec: vec(1, 1, 0, 0), SummaryVec: vec(1, 1, 0, 0),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	hits, err := s.VectorSearch(ctx, vec(1, 1, 0, 0), ScopeTitle, 1)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[1], hits[0].PageID)
}

func TestVectorSearch_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.VectorSearch(ctx, vec(1, 0), ScopeTitle, 3)
	assert.True(t, IsDimensionMismatch(err))

	_, err = s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopePage, 3)
	assert.Error(t, err)

	hits, err := s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopeTitle, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalSearch_FindsFox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, false)

	for _, scope := range []Scope{ScopePage, ScopeChunk} {
		hits, err := s.LexicalSearch(ctx, "fox", scope, 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits, scope)
		assert.Equal(t, id, hits[0].PageID)
		assert.Greater(t, hits[0].Score, 0.0)
	}

	hits, err := s.LexicalSearch(ctx, "dog", ScopeChunk, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	chunk, err := s.GetChunk(ctx, hits[0].ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "the lazy dog", chunk.Text)
}

func TestLexicalSearch_PossessiveQuery(t *testing.T) {
	// Given: the fox page indexed on both keyword backends
	for _, backend := range []LexicalBackend{LexicalFTS5, LexicalBleve} {
		t.Run(string(backend), func(t *testing.T) {
			dir := t.TempDir()
			s := newTestStore(t, func(o *Options) {
				o.Path = filepath.Join(dir, DefaultDBName)
				o.LexicalBackend = backend
				o.BlevePath = dir
			})
			id := indexFox(t, s, false)

			// When: the query spells the word with a possessive
			hits, err := s.LexicalSearch(context.Background(), "fox's tail", ScopeChunk, 5)

			// Then: the fox page is still found
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, id, hits[0].PageID)
		})
	}
}

func TestLexicalSearch_EdgeQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	indexFox(t, s, false)

	for _, q := range []string{"", "   ", "!!!", `"unbalanced`, "NEAR(", "fox*"} {
		t.Run(q, func(t *testing.T) {
			_, err := s.LexicalSearch(ctx, q, ScopeChunk, 5)
			assert.NoError(t, err)
		})
	}

	hits, err := s.LexicalSearch(ctx, "zebra", ScopePage, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.LexicalSearch(ctx, "fox", ScopeTitle, 5)
	assert.Error(t, err)
}

func TestLexicalSearch_BleveBackend(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, func(o *Options) {
		o.Path = filepath.Join(dir, DefaultDBName)
		o.LexicalBackend = LexicalBleve
		o.BlevePath = dir
	})
	ctx := context.Background()
	id := indexFox(t, s, false)

	hits, err := s.LexicalSearch(ctx, "fox", ScopeChunk, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].PageID)

	require.NoError(t, s.DeletePage(ctx, id))
	hits, err = s.LexicalSearch(ctx, "fox", ScopePage, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalSearch_BleveMirrorRebuildsOnOpen(t *testing.T) {
	// Given: a store written with FTS5 only
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultDBName)
	ctx := context.Background()
	s, err := Open(ctx, Options{Path: path, Dimension: testDims})
	require.NoError(t, err)
	id := indexFox(t, s, false)
	require.NoError(t, s.Close())

	// When: reopened with the bleve backend
	s, err = Open(ctx, Options{Path: path, Dimension: testDims, LexicalBackend: LexicalBleve, BlevePath: dir})
	require.NoError(t, err)
	defer s.Close()

	// Then: the mirror was filled from SQLite
	hits, err := s.LexicalSearch(ctx, "lazy dog", ScopeChunk, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].PageID)
}

// --- TS05: reconfiguration and lifecycle ---

func TestReconfigureDimension_DropsOnlyVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	affected, err := s.ReconfigureDimension(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	// No vector rows with the old dimension remain
	var oldPages, oldChunks int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM pages WHERE vec_dim = ?`, testDims).Scan(&oldPages))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE vec_dim = ? OR vec IS NOT NULL`, testDims).Scan(&oldChunks))
	assert.Zero(t, oldPages)
	assert.Zero(t, oldChunks)

	// Text and lexical rows are untouched
	chunks, err := s.ChunksForPage(ctx, id)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
	hits, err := s.LexicalSearch(ctx, "fox", ScopePage, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Graphs serve the new dimension
	assert.Equal(t, 8, s.Dimension())
	vhits, err := s.VectorSearch(ctx, make([]float32, 8), ScopeTitle, 5)
	require.NoError(t, err)
	assert.Empty(t, vhits)
	_, err = s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopeTitle, 5)
	assert.True(t, IsDimensionMismatch(err))

	pending, err := s.PagesNeedingReindex(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReconfigureDimension_SameDimensionIsNoop(t *testing.T) {
	s := newTestStore(t)
	indexFox(t, s, true)

	affected, err := s.ReconfigureDimension(context.Background(), testDims)

	require.NoError(t, err)
	assert.Zero(t, affected)
	_, err = s.ReconfigureDimension(context.Background(), 0)
	assert.Error(t, err)
}

func TestDeletePage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := indexFox(t, s, true)

	require.NoError(t, s.DeletePage(ctx, id))

	_, err := s.GetPage(ctx, id)
	assert.True(t, IsNotFound(err))
	hits, err := s.LexicalSearch(ctx, "fox", ScopeChunk, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	vhits, err := s.VectorSearch(ctx, vec(1, 0, 0, 0), ScopeTitle, 5)
	require.NoError(t, err)
	assert.Empty(t, vhits)
}

func TestClearIndex_KeepsBookmarks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	indexFox(t, s, true)
	_, err := s.IndexPage(ctx, PageWrite{URL: "https://other.test", Title: "Other", Chunks: chunkTexts("other text")})
	require.NoError(t, err)
	_, err = s.ToggleSaved(ctx, "https://example.com/fox")
	require.NoError(t, err)

	require.NoError(t, s.ClearIndex(ctx))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pages)
	assert.Equal(t, 0, st.Chunks)
	assert.Equal(t, 1, st.SavedPages)
	saved, err := s.IsSaved(ctx, "https://example.com/fox")
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestClose_IsIdempotentAndFinal(t *testing.T) {
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "x.db"), Dimension: testDims})
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.IsSaved(context.Background(), "https://a.test")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	indexFox(t, s, true)
	for i := range 3 {
		_, err := s.IndexPage(ctx, PageWrite{URL: fmt.Sprintf("https://p%d.test", i), Title: "p"})
		require.NoError(t, err)
	}
	require.NoError(t, s.Save(ctx))

	st, err := s.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 4, st.Pages)
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 3, st.PagesNoVectors)
	assert.Equal(t, 3, st.NeedsReindex)
	assert.Equal(t, "test/model", st.Model)
	assert.Equal(t, LexicalFTS5, st.LexicalBackend)
	assert.Equal(t, 1, st.VectorNodes[ScopeTitle])
	assert.Positive(t, st.DBSizeBytes)
}
