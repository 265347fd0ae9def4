package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/pagesearch/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// hits builds a list with strictly decreasing scores, one hit per page.
func hits(pageIDs ...string) []store.Hit {
	out := make([]store.Hit, len(pageIDs))
	for i, id := range pageIDs {
		out[i] = store.Hit{PageID: id, Score: float64(len(pageIDs) - i), LastVisited: baseTime}
	}
	return out
}

func fusedByID(fused []*FusedPage) map[string]*FusedPage {
	out := make(map[string]*FusedPage, len(fused))
	for _, f := range fused {
		out[f.PageID] = f
	}
	return out
}

func TestRRFFusion_Formula(t *testing.T) {
	// Given: A first in two lists, B second in one
	f := NewRRFFusion(60)
	lists := []RankedList{
		{List: ListChunk, Weight: 1, Hits: hits("A", "B")},
		{List: ListLexicalPage, Weight: 0.5, Hits: hits("A")},
	}

	// When: fusing
	fused := f.Fuse(lists)

	// Then: scores follow Σ w/(κ+rank)
	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].PageID)
	assert.InDelta(t, 1.0/61+0.5/61, fused[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, fused[1].Score, 1e-12)
	assert.Equal(t, map[List]int{ListChunk: 1, ListLexicalPage: 1}, fused[0].Ranks)
	assert.Equal(t, map[List]int{ListChunk: 2}, fused[1].Ranks)
}

func TestRRFFusion_PresenceInEveryListRanksAtLeastAsHigh(t *testing.T) {
	// Given: for each position, two equally scored pages there in the
	// chunk list, only one of which also appears in every other list
	for rank := 1; rank <= 5; rank++ {
		t.Run(fmt.Sprintf("rank %d", rank), func(t *testing.T) {
			filler := make([]string, rank-1)
			for i := range filler {
				filler[i] = fmt.Sprintf("filler-%d", i)
			}
			withEverywhere := hits(append(filler, "everywhere")...)
			chunkHits := append(hits(append(filler, "everywhere")...),
				store.Hit{PageID: "single", Score: withEverywhere[rank-1].Score, LastVisited: baseTime})

			lists := []RankedList{{List: ListChunk, Weight: 1, Hits: chunkHits}}
			for _, l := range []List{ListTitle, ListSummary, ListLexicalPage, ListLexicalChunk} {
				lists = append(lists, RankedList{List: l, Weight: 1, Hits: withEverywhere})
			}

			// When: fusing
			fused := NewRRFFusion(0).Fuse(lists)
			byID := fusedByID(fused)

			// Then: both share the chunk rank and the page found everywhere wins
			assert.Equal(t, byID["everywhere"].Ranks[ListChunk], byID["single"].Ranks[ListChunk])
			assert.Greater(t, byID["everywhere"].Score, byID["single"].Score)
			assert.Len(t, byID["everywhere"].Ranks, 5)
		})
	}
}

func TestRRFFusion_ChunkListsRankDistinctPages(t *testing.T) {
	// Given: two chunks of page P1 ahead of a chunk of page P2
	list := []store.Hit{
		{PageID: "P1", ChunkID: 11, Score: 0.9},
		{PageID: "P1", ChunkID: 12, Score: 0.8},
		{PageID: "P2", ChunkID: 21, Score: 0.7},
	}

	// When: fusing
	byID := fusedByID(NewRRFFusion(60).Fuse([]RankedList{{List: ListChunk, Weight: 1, Hits: list}}))

	// Then: P2 is second, and each page keeps its best chunk
	assert.Equal(t, 1, byID["P1"].Ranks[ListChunk])
	assert.Equal(t, 2, byID["P2"].Ranks[ListChunk])
	assert.Equal(t, int64(11), byID["P1"].ChunkID)
	assert.Equal(t, int64(21), byID["P2"].ChunkID)
}

func TestRRFFusion_BestChunkComesFromStrongestContribution(t *testing.T) {
	f := NewRRFFusion(60)
	lists := []RankedList{
		{List: ListChunk, Weight: 1, Hits: []store.Hit{
			{PageID: "X", ChunkID: 99, Score: 0.9},
			{PageID: "P", ChunkID: 1, Score: 0.5},
		}},
		{List: ListLexicalChunk, Weight: 1, Hits: []store.Hit{{PageID: "P", ChunkID: 2, Score: 3}}},
	}

	byID := fusedByID(f.Fuse(lists))

	assert.Equal(t, int64(2), byID["P"].ChunkID)
}

func TestRRFFusion_EqualScoresShareRank(t *testing.T) {
	list := []store.Hit{
		{PageID: "A", Score: 2},
		{PageID: "B", Score: 1},
		{PageID: "C", Score: 1},
		{PageID: "D", Score: 0.5},
	}

	byID := fusedByID(NewRRFFusion(60).Fuse([]RankedList{{List: ListTitle, Weight: 1, Hits: list}}))

	assert.Equal(t, 1, byID["A"].Ranks[ListTitle])
	assert.Equal(t, 2, byID["B"].Ranks[ListTitle])
	assert.Equal(t, 2, byID["C"].Ranks[ListTitle])
	assert.Equal(t, 4, byID["D"].Ranks[ListTitle])
	assert.Equal(t, byID["B"].Score, byID["C"].Score)
}

func TestRRFFusion_TieBreaksByNewerVisitThenID(t *testing.T) {
	list := []store.Hit{
		{PageID: "old", Score: 1, LastVisited: baseTime},
		{PageID: "new", Score: 1, LastVisited: baseTime.Add(time.Hour)},
		{PageID: "also-old", Score: 1, LastVisited: baseTime},
	}

	fused := NewRRFFusion(60).Fuse([]RankedList{{List: ListSummary, Weight: 1, Hits: list}})

	require.Len(t, fused, 3)
	assert.Equal(t, []string{"new", "also-old", "old"},
		[]string{fused[0].PageID, fused[1].PageID, fused[2].PageID})
}

func TestRRFFusion_IgnoresZeroWeightLists(t *testing.T) {
	fused := NewRRFFusion(60).Fuse([]RankedList{
		{List: ListTitle, Weight: 0, Hits: hits("A")},
		{List: ListSummary, Weight: 1, Hits: hits("B")},
	})

	require.Len(t, fused, 1)
	assert.Equal(t, "B", fused[0].PageID)
}

func TestRRFFusion_Empty(t *testing.T) {
	fused := NewRRFFusion(60).Fuse(nil)

	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestNewRRFFusion_DefaultsK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(0).K)
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(-3).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}
