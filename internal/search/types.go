// Package search answers queries over the page index by fusing vector and
// lexical result lists with Reciprocal Rank Fusion (RRF), then re-ranking
// the fused pages by recency and visit frequency.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/store"
)

// List names one ranked candidate list feeding fusion.
type List string

const (
	ListTitle        List = "title"
	ListSummary      List = "summary"
	ListChunk        List = "chunk"
	ListLexicalPage  List = "lexical_page"
	ListLexicalChunk List = "lexical_chunk"
)

// vectorLists and lexicalLists fix the order lists are reported in.
var (
	vectorLists  = []List{ListSummary, ListTitle, ListChunk}
	lexicalLists = []List{ListLexicalPage, ListLexicalChunk}
)

// IsLexical reports whether l comes from full-text search.
func (l List) IsLexical() bool {
	return l == ListLexicalPage || l == ListLexicalChunk
}

func (l List) scope() store.Scope {
	switch l {
	case ListTitle:
		return store.ScopeTitle
	case ListSummary:
		return store.ScopeSummary
	case ListLexicalPage:
		return store.ScopePage
	default:
		return store.ScopeChunk
	}
}

// Store is the read side of the page store the engine needs.
type Store interface {
	VectorSearch(ctx context.Context, vec []float32, scope store.Scope, k int) ([]store.Hit, error)
	LexicalSearch(ctx context.Context, query string, scope store.Scope, k int) ([]store.Hit, error)
	GetPages(ctx context.Context, ids []string) (map[string]*store.Page, error)
	GetChunk(ctx context.Context, id int64) (*store.Chunk, error)
	Dimension() int
}

var _ Store = (*store.SQLiteStore)(nil)

// Result is one ranked page.
type Result struct {
	Page *store.Page

	// Chunk is the best-matching chunk, nil when no chunk list matched.
	Chunk *store.Chunk

	// Score is Fused * Decay * Boost.
	Score float64
	Fused float64
	Decay float64
	Boost float64

	// Ranks holds the page's 1-based rank in each list it appeared in.
	Ranks map[List]int

	// MatchedBy lists the contributing lists in reporting order.
	MatchedBy []List

	chunkID int64
}

// Response is the outcome of one query. Notice is set when the answer is
// degraded (lexical-only, or some lists failed) but still usable.
type Response struct {
	Query       string
	Results     []*Result
	LexicalOnly bool
	Notice      string
	Took        time.Duration
}
