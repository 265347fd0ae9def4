package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

const pageColumns = `id, url, title, summary, last_visited, visit_count, saved,
	needs_reindex, content_hash, vec_dim, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*Page, error) {
	var (
		p                         Page
		lastVisited, created, upd int64
	)
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Summary, &lastVisited, &p.VisitCount,
		&p.Saved, &p.NeedsReindex, &p.ContentHash, &p.Dimension, &created, &upd)
	if err != nil {
		return nil, err
	}
	p.LastVisited = fromMillis(lastVisited)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(upd)
	return &p, nil
}

func validURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return apperr.New(apperr.ErrCodeInvalidPage, "page URL is empty", nil)
	}
	return nil
}

// UpsertPage inserts or updates page metadata and returns the page ID.
// Embeddings are not touched.
func (s *SQLiteStore) UpsertPage(ctx context.Context, url, title, summary string) (string, error) {
	if err := validURL(url); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapErr("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, _, err := upsertPageTx(ctx, tx, url, title, summary, toMillis(s.now()))
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", wrapErr("commit upsert", err)
	}

	s.mirrorPage(id, title, summary)
	return id, nil
}

func upsertPageTx(ctx context.Context, tx *sql.Tx, url, title, summary string, now int64) (string, int64, error) {
	var (
		id string
		pk int64
	)
	err := tx.QueryRowContext(ctx, `
		INSERT INTO pages (id, url, title, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			updated_at = excluded.updated_at
		RETURNING id, pk`,
		uuid.NewString(), url, title, summary, now, now).Scan(&id, &pk)
	if err != nil {
		return "", 0, wrapErr("upsert page", err)
	}
	return id, pk, nil
}

// pagePK resolves a page ID to its integer key.
func pagePK(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, pageID string) (int64, error) {
	var pk int64
	err := q.QueryRowContext(ctx, `SELECT pk FROM pages WHERE id = ?`, pageID).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrPageNotFound(pageID)
	}
	if err != nil {
		return 0, wrapErr("lookup page", err)
	}
	return pk, nil
}

// replaceChunksTx deletes the page's chunks and inserts the new set, with
// optional vectors. It returns the removed and inserted chunk IDs.
func replaceChunksTx(ctx context.Context, tx *sql.Tx, pageID string, chunks []ChunkText, vecs [][]float32, dims int) (removed, inserted []int64, err error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE page_id = ?`, pageID)
	if err != nil {
		return nil, nil, wrapErr("list chunks", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, wrapErr("scan chunk id", err)
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, wrapErr("list chunks", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE page_id = ?`, pageID); err != nil {
		return nil, nil, wrapErr("delete chunks", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (page_id, seq, content, token_count, vec, vec_dim)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, wrapErr("prepare chunk insert", err)
	}
	defer stmt.Close()

	inserted = make([]int64, 0, len(chunks))
	for i, c := range chunks {
		var (
			blob   []byte
			vecDim int
		)
		if vecs != nil {
			blob = encodeVector(vecs[i])
			vecDim = dims
		}
		res, err := stmt.ExecContext(ctx, pageID, c.Seq, c.Text, c.TokenCount, blob, vecDim)
		if err != nil {
			return nil, nil, wrapErr(fmt.Sprintf("insert chunk %d", c.Seq), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, nil, wrapErr("chunk id", err)
		}
		inserted = append(inserted, id)
	}
	return removed, inserted, nil
}

// ReplaceChunks atomically swaps the page's chunk set. The new chunks have
// no vectors, so the page is flagged for reindexing until SetEmbeddings.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, pageID string, chunks []ChunkText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin replace chunks", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := pagePK(ctx, tx, pageID); err != nil {
		return err
	}
	removed, inserted, err := replaceChunksTx(ctx, tx, pageID, chunks, nil, s.dims)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET needs_reindex = 1, updated_at = ? WHERE id = ?`,
		toMillis(s.now()), pageID); err != nil {
		return wrapErr("flag page", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit replace chunks", err)
	}

	for _, id := range removed {
		s.graphs[ScopeChunk].remove(id)
	}
	s.graphs[ScopeChunk].compact()
	s.mirrorChunks(removed, inserted, chunks)
	return nil
}

// SetEmbeddings writes the page's title, summary and chunk vectors. Every
// vector is validated first; on ErrDimensionMismatch nothing is written.
// chunkVecs must match the stored chunks in sequence order.
func (s *SQLiteStore) SetEmbeddings(ctx context.Context, pageID string, titleVec, summaryVec []float32, chunkVecs [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := checkDims(s.dims, "title", titleVec); err != nil {
		return err
	}
	if err := checkDims(s.dims, "summary", summaryVec); err != nil {
		return err
	}
	if err := checkDims(s.dims, "chunk", chunkVecs...); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin set embeddings", err)
	}
	defer func() { _ = tx.Rollback() }()

	pk, err := pagePK(ctx, tx, pageID)
	if err != nil {
		return err
	}

	var chunkIDs []int64
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE page_id = ? ORDER BY seq`, pageID)
	if err != nil {
		return wrapErr("list chunks", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return wrapErr("scan chunk id", err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrapErr("list chunks", err)
	}
	rows.Close()

	if len(chunkIDs) != len(chunkVecs) {
		return apperr.StoreError(
			fmt.Sprintf("page %s has %d chunks but %d chunk vectors were given", pageID, len(chunkIDs), len(chunkVecs)), nil)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pages SET title_vec = ?, summary_vec = ?, vec_dim = ?, needs_reindex = 0, updated_at = ?
		WHERE pk = ?`,
		encodeVector(titleVec), encodeVector(summaryVec), s.dims, toMillis(s.now()), pk); err != nil {
		return wrapErr("write page vectors", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET vec = ?, vec_dim = ? WHERE id = ?`)
	if err != nil {
		return wrapErr("prepare chunk vectors", err)
	}
	defer stmt.Close()
	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, encodeVector(chunkVecs[i]), s.dims, id); err != nil {
			return wrapErr("write chunk vector", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit set embeddings", err)
	}

	s.graphs[ScopeTitle].put(pk, titleVec)
	s.graphs[ScopeSummary].put(pk, summaryVec)
	for i, id := range chunkIDs {
		s.graphs[ScopeChunk].put(id, chunkVecs[i])
	}
	return nil
}

// IndexPage writes metadata, the chunk set and all vectors for one page in
// a single transaction. A write without vectors stores text only and flags
// the page for reindexing.
func (s *SQLiteStore) IndexPage(ctx context.Context, w PageWrite) (string, error) {
	if err := validURL(w.URL); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	withVectors := w.hasVectors()
	if withVectors {
		if len(w.ChunkVecs) != len(w.Chunks) {
			return "", apperr.StoreError(
				fmt.Sprintf("%d chunks but %d chunk vectors", len(w.Chunks), len(w.ChunkVecs)), nil)
		}
		if err := checkDims(s.dims, "title", w.TitleVec); err != nil {
			return "", err
		}
		if err := checkDims(s.dims, "summary", w.SummaryVec); err != nil {
			return "", err
		}
		if err := checkDims(s.dims, "chunk", w.ChunkVecs...); err != nil {
			return "", err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapErr("begin index page", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(s.now())
	id, pk, err := upsertPageTx(ctx, tx, w.URL, w.Title, w.Summary, now)
	if err != nil {
		return "", err
	}

	var chunkVecs [][]float32
	if withVectors {
		chunkVecs = w.ChunkVecs
	}
	removed, inserted, err := replaceChunksTx(ctx, tx, id, w.Chunks, chunkVecs, s.dims)
	if err != nil {
		return "", err
	}

	if withVectors {
		_, err = tx.ExecContext(ctx, `
			UPDATE pages SET title_vec = ?, summary_vec = ?, vec_dim = ?, needs_reindex = 0,
				content_hash = ?, updated_at = ?
			WHERE pk = ?`,
			encodeVector(w.TitleVec), encodeVector(w.SummaryVec), s.dims, w.ContentHash, now, pk)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE pages SET title_vec = NULL, summary_vec = NULL, vec_dim = 0, needs_reindex = 1,
				content_hash = ?, updated_at = ?
			WHERE pk = ?`,
			w.ContentHash, now, pk)
	}
	if err != nil {
		return "", wrapErr("write page vectors", err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrapErr("commit index page", err)
	}

	chunkGraph := s.graphs[ScopeChunk]
	for _, cid := range removed {
		chunkGraph.remove(cid)
	}
	if withVectors {
		s.graphs[ScopeTitle].put(pk, w.TitleVec)
		s.graphs[ScopeSummary].put(pk, w.SummaryVec)
		for i, cid := range inserted {
			chunkGraph.put(cid, w.ChunkVecs[i])
		}
	} else {
		s.graphs[ScopeTitle].remove(pk)
		s.graphs[ScopeSummary].remove(pk)
	}
	chunkGraph.compact()

	s.mirrorPage(id, w.Title, w.Summary)
	s.mirrorChunks(removed, inserted, w.Chunks)
	return id, nil
}

// RecordVisit increments the visit count and moves lastVisited forward,
// creating the page when the URL is new. The title is only used for new
// rows; indexing owns it afterwards.
func (s *SQLiteStore) RecordVisit(ctx context.Context, url, title string, at time.Time) (string, error) {
	if err := validURL(url); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	now := toMillis(s.now())
	visited := toMillis(at)
	var id, storedTitle, summary string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, url, title, last_visited, visit_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			visit_count = visit_count + 1,
			last_visited = MAX(last_visited, excluded.last_visited),
			updated_at = excluded.updated_at
		RETURNING id, title, summary`,
		uuid.NewString(), url, title, visited, now, now).Scan(&id, &storedTitle, &summary)
	if err != nil {
		return "", wrapErr("record visit", err)
	}
	s.mirrorPage(id, storedTitle, summary)
	return id, nil
}

// ToggleSaved flips the bookmark flag and returns the new value. An
// unknown URL gets a bare page row with saved set.
func (s *SQLiteStore) ToggleSaved(ctx context.Context, url string) (bool, error) {
	if err := validURL(url); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	now := toMillis(s.now())
	var (
		id, title, summary string
		saved              bool
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, url, saved, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			saved = 1 - saved,
			updated_at = excluded.updated_at
		RETURNING id, saved, title, summary`,
		uuid.NewString(), url, now, now).Scan(&id, &saved, &title, &summary)
	if err != nil {
		return false, wrapErr("toggle saved", err)
	}
	s.mirrorPage(id, title, summary)
	return saved, nil
}

// IsSaved reports the bookmark flag. Unknown URLs are not saved.
func (s *SQLiteStore) IsSaved(ctx context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	var saved bool
	err := s.db.QueryRowContext(ctx, `SELECT saved FROM pages WHERE url = ?`, url).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("is saved", err)
	}
	return saved, nil
}

// GetPage returns the page with the given ID.
func (s *SQLiteStore) GetPage(ctx context.Context, id string) (*Page, error) {
	return s.getPageBy(ctx, "id", id)
}

// GetPageByURL returns the page for url.
func (s *SQLiteStore) GetPageByURL(ctx context.Context, url string) (*Page, error) {
	return s.getPageBy(ctx, "url", url)
}

func (s *SQLiteStore) getPageBy(ctx context.Context, column, key string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE `+column+` = ?`, key)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound(key)
	}
	if err != nil {
		return nil, wrapErr("get page", err)
	}
	return p, nil
}

// GetPages returns the pages for ids keyed by ID. Unknown IDs are absent.
func (s *SQLiteStore) GetPages(ctx context.Context, ids []string) (map[string]*Page, error) {
	out := make(map[string]*Page, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	in, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, wrapErr("get pages", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, wrapErr("scan page", err)
		}
		out[p.ID] = p
	}
	return out, wrapErr("get pages", rows.Err())
}

// GetChunk returns one chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var c Chunk
	err := s.db.QueryRowContext(ctx,
		`SELECT id, page_id, seq, content, token_count, vec_dim FROM chunks WHERE id = ?`, id).
		Scan(&c.ID, &c.PageID, &c.Seq, &c.Text, &c.TokenCount, &c.Dimension)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrCodePageNotFound, fmt.Sprintf("chunk %d not found", id), nil)
	}
	if err != nil {
		return nil, wrapErr("get chunk", err)
	}
	return &c, nil
}

// ChunksForPage returns the page's chunks in sequence order. The read is a
// single statement, so it sees one complete chunk set.
func (s *SQLiteStore) ChunksForPage(ctx context.Context, pageID string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, seq, content, token_count, vec_dim
		FROM chunks WHERE page_id = ? ORDER BY seq`, pageID)
	if err != nil {
		return nil, wrapErr("list chunks", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.PageID, &c.Seq, &c.Text, &c.TokenCount, &c.Dimension); err != nil {
			return nil, wrapErr("scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, wrapErr("list chunks", rows.Err())
}

// PagesNeedingReindex returns up to limit flagged pages, most recently
// visited first. limit <= 0 returns all.
func (s *SQLiteStore) PagesNeedingReindex(ctx context.Context, limit int) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE needs_reindex = 1
		ORDER BY last_visited DESC, url
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("list reindex pages", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, wrapErr("scan page", err)
		}
		pages = append(pages, p)
	}
	return pages, wrapErr("list reindex pages", rows.Err())
}

// DeletePage removes a page and its chunks.
func (s *SQLiteStore) DeletePage(ctx context.Context, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin delete page", err)
	}
	defer func() { _ = tx.Rollback() }()

	pk, err := pagePK(ctx, tx, pageID)
	if err != nil {
		return err
	}
	removed, _, err := replaceChunksTx(ctx, tx, pageID, nil, nil, s.dims)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE pk = ?`, pk); err != nil {
		return wrapErr("delete page", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit delete page", err)
	}

	s.graphs[ScopeTitle].remove(pk)
	s.graphs[ScopeSummary].remove(pk)
	for _, id := range removed {
		s.graphs[ScopeChunk].remove(id)
	}
	if s.mirror != nil {
		if err := s.mirror.deletePage(pageID, removed); err != nil {
			s.markStale(err)
		}
	}
	return nil
}
