// Package store persists pages, chunks and their vector and lexical indexes.
//
// SQLite (modernc.org/sqlite) is the source of truth. FTS5 tables mirror the
// text columns through triggers, and vectors are stored as BLOBs beside
// their rows and served from one in-memory HNSW graph per scope.
package store

import (
	"time"
)

// Scope selects which index a search runs against.
type Scope string

const (
	// Vector scopes.
	ScopeTitle   Scope = "title"
	ScopeSummary Scope = "summary"
	ScopeChunk   Scope = "chunk"

	// Lexical scopes. ScopeChunk is shared.
	ScopePage Scope = "page"
)

// LexicalBackend names the engine answering LexicalSearch.
type LexicalBackend string

const (
	LexicalFTS5  LexicalBackend = "fts5"
	LexicalBleve LexicalBackend = "bleve"
)

// State keys written by the store itself.
const (
	StateKeyDimension = "index_embedding_dimension"
	StateKeyModel     = "index_embedding_model"
	StateKeySchema    = "schema_version"
)

// Page is one row per distinct URL.
type Page struct {
	ID           string
	URL          string
	Title        string
	Summary      string
	LastVisited  time.Time
	VisitCount   int
	Saved        bool
	NeedsReindex bool
	ContentHash  string
	Dimension    int // 0 when the page has no vectors
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasVectors reports whether the page carries title and summary vectors.
func (p *Page) HasVectors() bool { return p.Dimension > 0 }

// Chunk is a stored fragment of a page's body text.
type Chunk struct {
	ID         int64
	PageID     string
	Seq        int
	Text       string
	TokenCount int
	Dimension  int
}

// ChunkText is a chunk to be written. Seq orders the set.
type ChunkText struct {
	Seq        int
	Text       string
	TokenCount int
}

// PageWrite carries everything the indexing pipeline writes for one page.
// Vectors are either all present (TitleVec, SummaryVec and one per chunk)
// or all nil, in which case the page is stored text-only and flagged for
// reindexing.
type PageWrite struct {
	URL         string
	Title       string
	Summary     string
	ContentHash string
	Chunks      []ChunkText

	TitleVec   []float32
	SummaryVec []float32
	ChunkVecs  [][]float32
}

func (w *PageWrite) hasVectors() bool {
	return w.TitleVec != nil || w.SummaryVec != nil || len(w.ChunkVecs) > 0
}

// Hit is one ranked row from a vector or lexical search. ChunkID is zero
// for page-level scopes.
type Hit struct {
	Scope       Scope
	PageID      string
	ChunkID     int64
	Score       float64
	LastVisited time.Time
}

// Stats summarizes the store for status output.
type Stats struct {
	Pages          int
	Chunks         int
	SavedPages     int
	PagesNoVectors int
	NeedsReindex   int
	Dimension      int
	Model          string
	LexicalBackend LexicalBackend
	VectorNodes    map[Scope]int
	Orphans        map[Scope]int
	DBSizeBytes    int64
}
