package search

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter κ.
const DefaultRRFConstant = 60

// RankedList is one candidate list, best hit first.
type RankedList struct {
	List   List
	Weight float64
	Hits   []store.Hit
}

// FusedPage is a page after fusion, before recency and frequency.
type FusedPage struct {
	PageID      string
	Score       float64
	LastVisited time.Time
	Ranks       map[List]int

	// ChunkID is the chunk behind the page's strongest chunk-list
	// contribution, zero when no chunk list matched.
	ChunkID int64

	chunkScore float64
}

// RRFFusion merges ranked lists per page.
//
// Algorithm: score(page) = Σ weight_l / (κ + rank_l)
//
// Where rank_l is the 1-based position of the page's first hit among the
// distinct pages of list l. Pages whose hits score equally share a rank,
// so identical content fuses to identical scores.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns a fusion with smoothing constant k.
// If k <= 0, defaults to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines lists into pages ordered by fused score, then newer
// visit, then page ID. Lists with a non-positive weight are ignored.
func (f *RRFFusion) Fuse(lists []RankedList) []*FusedPage {
	pages := make(map[string]*FusedPage)

	for _, l := range lists {
		if l.Weight <= 0 {
			continue
		}
		for _, hr := range pageRanks(l.Hits) {
			p, ok := pages[hr.hit.PageID]
			if !ok {
				p = &FusedPage{
					PageID:      hr.hit.PageID,
					LastVisited: hr.hit.LastVisited,
					Ranks:       make(map[List]int, len(lists)),
				}
				pages[hr.hit.PageID] = p
			}
			contribution := l.Weight / float64(f.K+hr.rank)
			p.Score += contribution
			p.Ranks[l.List] = hr.rank
			if hr.hit.LastVisited.After(p.LastVisited) {
				p.LastVisited = hr.hit.LastVisited
			}
			if hr.hit.ChunkID != 0 && contribution > p.chunkScore {
				p.ChunkID = hr.hit.ChunkID
				p.chunkScore = contribution
			}
		}
	}

	out := make([]*FusedPage, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *FusedPage) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.LastVisited.Compare(a.LastVisited); c != 0 {
			return c
		}
		return cmp.Compare(a.PageID, b.PageID)
	})
	return out
}

type rankedHit struct {
	hit  store.Hit
	rank int
}

// pageRanks keeps each page's first hit and assigns competition ranks
// ("1224") over the distinct pages.
func pageRanks(hits []store.Hit) []rankedHit {
	out := make([]rankedHit, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	rank := 0
	prev := math.NaN()
	for _, h := range hits {
		if _, ok := seen[h.PageID]; ok {
			continue
		}
		seen[h.PageID] = struct{}{}
		if h.Score != prev {
			rank = len(out) + 1
			prev = h.Score
		}
		out = append(out, rankedHit{hit: h, rank: rank})
	}
	return out
}
