package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// VectorSearch returns up to k rows of scope ranked by cosine similarity
// to vec. Equal similarities are ordered by newer lastVisited.
func (s *SQLiteStore) VectorSearch(ctx context.Context, vec []float32, scope Scope, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	graph, ok := s.graphs[scope]
	if !ok {
		return nil, apperr.InternalError(fmt.Sprintf("unknown vector scope %q", scope), nil)
	}
	if err := checkDims(s.dims, "query", vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	scored := graph.search(vec, k)
	if len(scored) == 0 {
		return []Hit{}, nil
	}

	rows := make([]int64, len(scored))
	for i, sr := range scored {
		rows[i] = sr.row
	}
	refs, err := s.hydrate(ctx, scope, rows)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, sr := range scored {
		ref, ok := refs[sr.row]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Scope:       scope,
			PageID:      ref.pageID,
			ChunkID:     ref.chunkID,
			Score:       sr.score,
			LastVisited: ref.lastVisited,
		})
	}
	return rankHits(hits, k), nil
}

// LexicalSearch returns up to k rows of scope (page or chunk) ranked by
// full-text relevance. Higher scores are better.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, query string, scope Scope, k int) ([]Hit, error) {
	if scope != ScopePage && scope != ScopeChunk {
		return nil, apperr.InternalError(fmt.Sprintf("unknown lexical scope %q", scope), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	terms := QueryTerms(query)
	if len(terms) == 0 || k <= 0 {
		return []Hit{}, nil
	}

	if s.mirror != nil && !s.stale {
		return s.bleveSearch(ctx, terms, scope, k)
	}
	return s.ftsSearch(ctx, terms, scope, k)
}

func (s *SQLiteStore) ftsSearch(ctx context.Context, terms []string, scope Scope, k int) ([]Hit, error) {
	// bm25() is negative with lower meaning better.
	var q string
	if scope == ScopePage {
		q = `
			SELECT p.id, 0, p.last_visited, bm25(pages_fts) AS score
			FROM pages_fts JOIN pages p ON p.pk = pages_fts.rowid
			WHERE pages_fts MATCH ?
			ORDER BY score, p.last_visited DESC, p.id
			LIMIT ?`
	} else {
		q = `
			SELECT p.id, c.id, p.last_visited, bm25(chunks_fts) AS score
			FROM chunks_fts
			JOIN chunks c ON c.id = chunks_fts.rowid
			JOIN pages p ON p.id = c.page_id
			WHERE chunks_fts MATCH ?
			ORDER BY score, p.last_visited DESC, c.id
			LIMIT ?`
	}

	rows, err := s.db.QueryContext(ctx, q, ftsMatch(terms), k)
	if err != nil {
		if isFTSQueryError(err) {
			return []Hit{}, nil
		}
		return nil, wrapErr("lexical search", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var (
			h           Hit
			lastVisited int64
			score       float64
		)
		if err := rows.Scan(&h.PageID, &h.ChunkID, &lastVisited, &score); err != nil {
			return nil, wrapErr("scan lexical hit", err)
		}
		h.Scope = scope
		h.Score = -score
		h.LastVisited = fromMillis(lastVisited)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		if isFTSQueryError(err) {
			return []Hit{}, nil
		}
		return nil, wrapErr("lexical search", err)
	}
	return hits, nil
}

func (s *SQLiteStore) bleveSearch(ctx context.Context, terms []string, scope Scope, k int) ([]Hit, error) {
	found, err := s.mirror.search(ctx, scope, terms, k)
	if err != nil {
		return nil, apperr.StoreError("bleve search", err)
	}
	if len(found) == 0 {
		return []Hit{}, nil
	}

	var refs map[string]rowRef
	if scope == ScopePage {
		ids := make([]string, len(found))
		for i, f := range found {
			ids[i] = f.id
		}
		refs, err = s.pageRefsByID(ctx, ids)
	} else {
		rows := make([]int64, 0, len(found))
		for _, f := range found {
			if id, err := strconv.ParseInt(f.id, 10, 64); err == nil {
				rows = append(rows, id)
			}
		}
		var byRow map[int64]rowRef
		byRow, err = s.hydrate(ctx, ScopeChunk, rows)
		refs = make(map[string]rowRef, len(byRow))
		for row, ref := range byRow {
			refs[strconv.FormatInt(row, 10)] = ref
		}
	}
	if err != nil {
		return nil, err
	}

	// Mirror entries whose rows are gone are dropped here.
	hits := make([]Hit, 0, len(found))
	for _, f := range found {
		ref, ok := refs[f.id]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Scope:       scope,
			PageID:      ref.pageID,
			ChunkID:     ref.chunkID,
			Score:       f.score,
			LastVisited: ref.lastVisited,
		})
	}
	return rankHits(hits, k), nil
}

type rowRef struct {
	pageID      string
	chunkID     int64
	lastVisited time.Time
}

// hydrate maps graph rows (page pk or chunk id) to page identity and
// lastVisited. Rows that no longer exist are absent from the result.
func (s *SQLiteStore) hydrate(ctx context.Context, scope Scope, rows []int64) (map[int64]rowRef, error) {
	out := make(map[int64]rowRef, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	in, args := inClause(rows)
	var q string
	if scope == ScopeChunk {
		q = `SELECT c.id, p.id, c.id, p.last_visited
			FROM chunks c JOIN pages p ON p.id = c.page_id
			WHERE c.id IN (` + in + `)`
	} else {
		q = `SELECT pk, id, 0, last_visited FROM pages WHERE pk IN (` + in + `)`
	}

	result, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("hydrate hits", err)
	}
	defer result.Close()
	for result.Next() {
		var (
			row         int64
			ref         rowRef
			lastVisited int64
		)
		if err := result.Scan(&row, &ref.pageID, &ref.chunkID, &lastVisited); err != nil {
			return nil, wrapErr("scan hit", err)
		}
		ref.lastVisited = fromMillis(lastVisited)
		out[row] = ref
	}
	return out, wrapErr("hydrate hits", result.Err())
}

func (s *SQLiteStore) pageRefsByID(ctx context.Context, ids []string) (map[string]rowRef, error) {
	out := make(map[string]rowRef, len(ids))
	in, args := inClause(ids)
	result, err := s.db.QueryContext(ctx,
		`SELECT id, last_visited FROM pages WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, wrapErr("hydrate hits", err)
	}
	defer result.Close()
	for result.Next() {
		var (
			ref         rowRef
			lastVisited int64
		)
		if err := result.Scan(&ref.pageID, &lastVisited); err != nil {
			return nil, wrapErr("scan hit", err)
		}
		ref.lastVisited = fromMillis(lastVisited)
		out[ref.pageID] = ref
	}
	return out, wrapErr("hydrate hits", result.Err())
}

// rankHits orders by score, then newer visit, then identity, and keeps k.
func rankHits(hits []Hit, k int) []Hit {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.LastVisited.Compare(a.LastVisited); c != 0 {
			return c
		}
		if c := cmp.Compare(a.PageID, b.PageID); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
