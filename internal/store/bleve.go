package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

const pageTextAnalyzer = "page_text"

// bleveMirror keeps a bleve copy of the lexical data: one index for page
// title+summary keyed by page ID, one for chunks keyed by chunk ID.
type bleveMirror struct {
	path   string
	pages  bleve.Index
	chunks bleve.Index
}

type bleveDoc struct {
	Text string `json:"text"`
}

type bleveHit struct {
	id    string
	score float64
}

// openBleveMirror opens the mirror under dir, or in memory when dir is
// empty. A corrupt on-disk index is cleared; the caller refills it from
// SQLite.
func openBleveMirror(dir string) (*bleveMirror, error) {
	m := &bleveMirror{path: dir}
	var err error
	if m.pages, err = openBleveIndex(dir, "pages.bleve"); err != nil {
		return nil, err
	}
	if m.chunks, err = openBleveIndex(dir, "chunks.bleve"); err != nil {
		_ = m.pages.Close()
		return nil, err
	}
	return m, nil
}

func openBleveIndex(dir, name string) (bleve.Index, error) {
	indexMapping, err := newIndexMapping()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return bleve.NewMemOnly(indexMapping)
	}

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if validErr := validateBleveIndex(path); validErr != nil {
		slog.Warn("bleve_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return bleve.New(path, indexMapping)
	}
	if err != nil {
		slog.Warn("bleve_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("bleve index unreadable, cannot clear: %w (original: %v)", removeErr, err)
		}
		return bleve.New(path, indexMapping)
	}
	return idx, nil
}

// validateBleveIndex checks that index_meta.json exists and parses.
func validateBleveIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(pageTextAnalyzer, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = pageTextAnalyzer
	return indexMapping, nil
}

func (m *bleveMirror) indexPage(id, title, summary string) error {
	text := strings.TrimSpace(title + "\n" + summary)
	if text == "" {
		return m.pages.Delete(id)
	}
	return m.pages.Index(id, bleveDoc{Text: text})
}

func (m *bleveMirror) replaceChunks(removed, inserted []int64, chunks []ChunkText) error {
	batch := m.chunks.NewBatch()
	for _, id := range removed {
		batch.Delete(strconv.FormatInt(id, 10))
	}
	for i, id := range inserted {
		if err := batch.Index(strconv.FormatInt(id, 10), bleveDoc{Text: chunks[i].Text}); err != nil {
			return fmt.Errorf("batch chunk %d: %w", id, err)
		}
	}
	return m.chunks.Batch(batch)
}

func (m *bleveMirror) deletePage(pageID string, chunkIDs []int64) error {
	if err := m.pages.Delete(pageID); err != nil {
		return err
	}
	return m.replaceChunks(chunkIDs, nil, nil)
}

func (m *bleveMirror) search(ctx context.Context, scope Scope, terms []string, k int) ([]bleveHit, error) {
	idx := m.chunks
	if scope == ScopePage {
		idx = m.pages
	}

	disjuncts := make([]query.Query, len(terms))
	for i, term := range terms {
		mq := bleve.NewMatchQuery(term)
		mq.SetField("text")
		disjuncts[i] = mq
	}
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(disjuncts...))
	req.Size = k

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	hits := make([]bleveHit, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = bleveHit{id: h.ID, score: h.Score}
	}
	return hits, nil
}

func (m *bleveMirror) docCounts() (pages, chunks uint64, err error) {
	if pages, err = m.pages.DocCount(); err != nil {
		return 0, 0, err
	}
	if chunks, err = m.chunks.DocCount(); err != nil {
		return 0, 0, err
	}
	return pages, chunks, nil
}

// reset empties both indexes.
func (m *bleveMirror) reset() error {
	for _, idx := range []bleve.Index{m.pages, m.chunks} {
		count, err := idx.DocCount()
		if err != nil {
			return err
		}
		req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
		req.Size = int(count)
		result, err := idx.Search(req)
		if err != nil {
			return err
		}
		batch := idx.NewBatch()
		for _, h := range result.Hits {
			batch.Delete(h.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *bleveMirror) close() error {
	return errors.Join(m.pages.Close(), m.chunks.Close())
}

// mirrorPage and mirrorChunks run after a committed write under the store
// write lock. A failure marks the mirror stale instead of failing the write.
func (s *SQLiteStore) mirrorPage(id, title, summary string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.indexPage(id, title, summary); err != nil {
		s.markStale(err)
	}
}

func (s *SQLiteStore) mirrorChunks(removed, inserted []int64, chunks []ChunkText) {
	if s.mirror == nil || len(removed)+len(inserted) == 0 {
		return
	}
	if err := s.mirror.replaceChunks(removed, inserted, chunks); err != nil {
		s.markStale(err)
	}
}

func (s *SQLiteStore) markStale(err error) {
	if !s.stale {
		slog.Warn("bleve_mirror_stale",
			slog.String("error", err.Error()),
			slog.String("fallback", "fts5"))
	}
	s.stale = true
}

// syncMirror refills the mirror when its document counts disagree with
// SQLite, such as after a crash or when the mirror is first enabled.
func (s *SQLiteStore) syncMirror(ctx context.Context) error {
	var pages, chunks uint64
	if err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM pages WHERE title != '' OR summary != ''), (SELECT COUNT(*) FROM chunks)`).
		Scan(&pages, &chunks); err != nil {
		return wrapErr("count rows for mirror", err)
	}
	mp, mc, err := s.mirror.docCounts()
	if err == nil && mp == pages && mc == chunks {
		return nil
	}

	slog.Info("bleve_mirror_rebuild",
		slog.Uint64("pages", pages),
		slog.Uint64("chunks", chunks))
	if err := s.mirror.reset(); err != nil {
		return apperr.StoreError("reset bleve mirror", err)
	}
	return s.rebuildMirror(ctx)
}

// rebuildMirror indexes every page and chunk into an empty mirror.
func (s *SQLiteStore) rebuildMirror(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, summary FROM pages WHERE title != '' OR summary != ''`)
	if err != nil {
		return wrapErr("read pages for mirror", err)
	}
	pageBatch := s.mirror.pages.NewBatch()
	for rows.Next() {
		var id, title, summary string
		if err := rows.Scan(&id, &title, &summary); err != nil {
			rows.Close()
			return wrapErr("scan page for mirror", err)
		}
		if err := pageBatch.Index(id, bleveDoc{Text: strings.TrimSpace(title + "\n" + summary)}); err != nil {
			rows.Close()
			return apperr.StoreError("mirror page", err)
		}
	}
	rows.Close()
	if err := s.mirror.pages.Batch(pageBatch); err != nil {
		return apperr.StoreError("mirror pages", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, content FROM chunks`)
	if err != nil {
		return wrapErr("read chunks for mirror", err)
	}
	defer rows.Close()
	chunkBatch := s.mirror.chunks.NewBatch()
	for rows.Next() {
		var (
			id      int64
			content string
		)
		if err := rows.Scan(&id, &content); err != nil {
			return wrapErr("scan chunk for mirror", err)
		}
		if err := chunkBatch.Index(strconv.FormatInt(id, 10), bleveDoc{Text: content}); err != nil {
			return apperr.StoreError("mirror chunk", err)
		}
	}
	if err := s.mirror.chunks.Batch(chunkBatch); err != nil {
		return apperr.StoreError("mirror chunks", err)
	}
	s.stale = false
	return nil
}
