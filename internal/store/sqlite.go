package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// DefaultDBName is the database file inside the data directory.
const DefaultDBName = "pagesearch.db"

// Options configures Open.
type Options struct {
	// Path is the database file. Empty opens a private in-memory store.
	Path string

	// Dimension is the configured embedding dimension. When it differs
	// from the dimension recorded in the store, Open reconfigures.
	Dimension int

	// Model is recorded in the state table for diagnostics.
	Model string

	// LexicalBackend selects FTS5 (default) or the bleve mirror.
	LexicalBackend LexicalBackend

	// BlevePath is the mirror directory. Empty with the bleve backend
	// keeps the mirror in memory.
	BlevePath string

	// SkipLock disables the data directory lock.
	SkipLock bool

	// Clock overrides time.Now for created/updated timestamps.
	Clock func() time.Time
}

// SQLiteStore is the single source of truth for pages and chunks. A write
// holds mu for its transaction and the follow-up graph update, so readers
// see either the old or the new state.
type SQLiteStore struct {
	mu      sync.RWMutex
	db      *sql.DB
	path    string
	dims    int
	model   string
	backend LexicalBackend
	graphs  map[Scope]*vectorIndex
	mirror  *bleveMirror
	stale   bool // mirror missed a write; lexical reads use FTS5
	lock    *DirLock
	now     func() time.Time
	closed  bool
}

// Open opens or creates the store described by opts.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.Dimension <= 0 {
		return nil, apperr.ConfigError(fmt.Sprintf("store dimension must be positive, got %d", opts.Dimension), nil)
	}
	switch opts.LexicalBackend {
	case "":
		opts.LexicalBackend = LexicalFTS5
	case LexicalFTS5, LexicalBleve:
	default:
		return nil, apperr.ConfigError(fmt.Sprintf("unknown lexical backend %q", opts.LexicalBackend), nil).
			WithSuggestion("use fts5 or bleve")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &SQLiteStore{
		path:    opts.Path,
		model:   opts.Model,
		backend: opts.LexicalBackend,
		now:     opts.Clock,
	}

	var dsn string
	if opts.Path == "" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	} else {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.StoreError(fmt.Sprintf("create data directory %s", dir), err)
		}
		if !opts.SkipLock {
			s.lock = NewDirLock(dir)
			if err := s.lock.TryLock(); err != nil {
				return nil, err
			}
		}
		if err := validateIntegrity(opts.Path); err != nil {
			s.unlock()
			return nil, apperr.New(apperr.ErrCodeStoreCorrupt, "store failed integrity check", err).
				WithDetail("path", opts.Path).
				WithSuggestion("move the database aside and run 'pagesearch clear'")
		}
		// _pragma parameters apply to every connection modernc opens.
		dsn = opts.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)" +
			"&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.unlock()
		return nil, apperr.StoreError("open database", err)
	}

	// Single connection: one writer, and in-memory stores stay one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.init(ctx, opts.Dimension); err != nil {
		_ = db.Close()
		s.unlock()
		return nil, err
	}

	if s.backend == LexicalBleve {
		mirror, err := openBleveMirror(opts.BlevePath)
		if err != nil {
			_ = db.Close()
			s.unlock()
			return nil, apperr.StoreError("open bleve mirror", err)
		}
		s.mirror = mirror
		if err := s.syncMirror(ctx); err != nil {
			_ = mirror.close()
			_ = db.Close()
			s.unlock()
			return nil, err
		}
	}

	slog.Debug("store_opened",
		slog.String("path", opts.Path),
		slog.Int("dimension", s.dims),
		slog.String("lexical_backend", string(s.backend)))
	return s, nil
}

func (s *SQLiteStore) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// validateIntegrity runs a quick check on an existing database file.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (s *SQLiteStore) init(ctx context.Context, dims int) error {
	pragmas := []string{
		"PRAGMA cache_size = -32768", // 32MB (negative = KB)
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return apperr.StoreError("set pragma", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return apperr.New(apperr.ErrCodeStoreSchema, "initialize schema", err)
	}

	version, ok, err := s.getState(ctx, StateKeySchema)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.setState(ctx, s.db, StateKeySchema, Int(schemaVersion)); err != nil {
			return err
		}
	} else if v, _ := version.AsInt(); v != schemaVersion {
		return apperr.New(apperr.ErrCodeStoreSchema,
			fmt.Sprintf("store schema version %d is not supported (want %d)", v, schemaVersion), nil)
	}

	stored, ok, err := s.getState(ctx, StateKeyDimension)
	if err != nil {
		return err
	}
	storedDim, _ := stored.AsInt()
	s.dims = dims
	switch {
	case !ok:
		if err := s.setState(ctx, s.db, StateKeyDimension, Int(int64(dims))); err != nil {
			return err
		}
	case int(storedDim) != dims:
		slog.Info("store_dimension_changed",
			slog.Int("from", int(storedDim)),
			slog.Int("to", dims))
		if _, err := s.reconfigure(ctx, dims); err != nil {
			return err
		}
	}
	if s.model != "" {
		if err := s.setState(ctx, s.db, StateKeyModel, String(s.model)); err != nil {
			return err
		}
	}

	return s.loadGraphs(ctx)
}

// loadGraphs rebuilds every scope's graph from the vectors stored at the
// current dimension. Caller holds mu or has exclusive access.
func (s *SQLiteStore) loadGraphs(ctx context.Context) error {
	graphs := map[Scope]*vectorIndex{
		ScopeTitle:   newVectorIndex(s.dims),
		ScopeSummary: newVectorIndex(s.dims),
		ScopeChunk:   newVectorIndex(s.dims),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pk, title_vec, summary_vec FROM pages WHERE vec_dim = ?`, s.dims)
	if err != nil {
		return wrapErr("load page vectors", err)
	}
	for rows.Next() {
		var pk int64
		var titleBlob, summaryBlob []byte
		if err := rows.Scan(&pk, &titleBlob, &summaryBlob); err != nil {
			rows.Close()
			return wrapErr("scan page vectors", err)
		}
		if err := putBlob(graphs[ScopeTitle], pk, titleBlob, s.dims); err != nil {
			rows.Close()
			return err
		}
		if err := putBlob(graphs[ScopeSummary], pk, summaryBlob, s.dims); err != nil {
			rows.Close()
			return err
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return wrapErr("load page vectors", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT id, vec FROM chunks WHERE vec_dim = ?`, s.dims)
	if err != nil {
		return wrapErr("load chunk vectors", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return wrapErr("scan chunk vectors", err)
		}
		if err := putBlob(graphs[ScopeChunk], id, blob, s.dims); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("load chunk vectors", err)
	}

	s.graphs = graphs
	return nil
}

func putBlob(idx *vectorIndex, row int64, blob []byte, dims int) error {
	if blob == nil {
		return nil
	}
	vec, err := decodeVector(blob)
	if err != nil || len(vec) != dims {
		return apperr.New(apperr.ErrCodeStoreCorrupt, fmt.Sprintf("stored vector for row %d is unreadable", row), err)
	}
	idx.put(row, vec)
	return nil
}

// Dimension returns the active embedding dimension.
func (s *SQLiteStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Backend returns the lexical backend serving LexicalSearch.
func (s *SQLiteStore) Backend() LexicalBackend { return s.backend }

// Path returns the database path, or "" for in-memory stores.
func (s *SQLiteStore) Path() string { return s.path }

// ReconfigureDimension drops every vector whose dimension differs from
// newDim, flags the affected pages for reindexing and records newDim. Text
// and lexical rows are untouched. It returns the number of flagged pages.
func (s *SQLiteStore) ReconfigureDimension(ctx context.Context, newDim int) (int, error) {
	if newDim <= 0 {
		return 0, apperr.ConfigError(fmt.Sprintf("dimension must be positive, got %d", newDim), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if newDim == s.dims {
		return 0, nil
	}

	prev := s.dims
	affected, err := s.reconfigure(ctx, newDim)
	if err != nil {
		return 0, err
	}
	if err := s.loadGraphs(ctx); err != nil {
		return 0, err
	}
	slog.Info("store_reconfigured",
		slog.Int("from", prev),
		slog.Int("to", newDim),
		slog.Int("pages_flagged", affected))
	return affected, nil
}

// reconfigure runs the invalidation transaction and sets s.dims. The
// caller reloads the graphs.
func (s *SQLiteStore) reconfigure(ctx context.Context, newDim int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin reconfigure", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(s.now())
	res, err := tx.ExecContext(ctx, `
		UPDATE pages SET needs_reindex = 1, updated_at = ?
		WHERE (vec_dim != 0 AND vec_dim != ?)
		   OR id IN (SELECT page_id FROM chunks WHERE vec_dim != 0 AND vec_dim != ?)`,
		now, newDim, newDim)
	if err != nil {
		return 0, wrapErr("flag pages for reindex", err)
	}
	affected, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE pages SET title_vec = NULL, summary_vec = NULL, vec_dim = 0
		WHERE vec_dim != 0 AND vec_dim != ?`, newDim); err != nil {
		return 0, wrapErr("drop page vectors", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chunks SET vec = NULL, vec_dim = 0
		WHERE vec_dim != 0 AND vec_dim != ?`, newDim); err != nil {
		return 0, wrapErr("drop chunk vectors", err)
	}
	if err := s.setState(ctx, tx, StateKeyDimension, Int(int64(newDim))); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit reconfigure", err)
	}
	s.dims = newDim
	return int(affected), nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetState reads a state value. ok is false when the key is absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Value{}, false, ErrClosed
	}
	return s.getState(ctx, key)
}

func (s *SQLiteStore) getState(ctx context.Context, key string) (Value, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, wrapErr("get state "+key, err)
	}
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Value{}, false, apperr.New(apperr.ErrCodeStoreCorrupt, "decode state "+key, err)
	}
	return v, true, nil
}

// SetState writes a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key string, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.setState(ctx, s.db, key, value)
}

func (s *SQLiteStore) setState(ctx context.Context, ex execer, key string, value Value) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperr.InternalError("encode state "+key, err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), toMillis(s.now()))
	return wrapErr("set state "+key, err)
}

// Stats summarizes the store.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	st := &Stats{
		Dimension:      s.dims,
		LexicalBackend: s.backend,
		VectorNodes:    make(map[Scope]int, len(s.graphs)),
		Orphans:        make(map[Scope]int, len(s.graphs)),
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(saved), 0),
		       COALESCE(SUM(CASE WHEN vec_dim = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(needs_reindex), 0)
		FROM pages`).Scan(&st.Pages, &st.SavedPages, &st.PagesNoVectors, &st.NeedsReindex)
	if err != nil {
		return nil, wrapErr("count pages", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return nil, wrapErr("count chunks", err)
	}
	if model, ok, err := s.getState(ctx, StateKeyModel); err == nil && ok {
		st.Model, _ = model.AsString()
	}
	for scope, g := range s.graphs {
		st.VectorNodes[scope] = g.len()
		st.Orphans[scope] = g.orphans()
	}
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// Save forces a WAL checkpoint so all committed writes are in the main
// database file.
func (s *SQLiteStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.checkpoint(ctx)
}

// Flush is Save under the name shutdown hooks use.
func (s *SQLiteStore) Flush(ctx context.Context) error { return s.Save(ctx) }

func (s *SQLiteStore) checkpoint(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return wrapErr("checkpoint", err)
}

// ClearIndex removes every page and chunk. Saved pages survive as bare
// rows so bookmarks outlive an index reset.
func (s *SQLiteStore) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin clear", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return wrapErr("clear chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE saved = 0`); err != nil {
		return wrapErr("clear pages", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pages SET summary = '', content_hash = '', title_vec = NULL, summary_vec = NULL,
			vec_dim = 0, needs_reindex = 0, updated_at = ?`, toMillis(s.now())); err != nil {
		return wrapErr("reset saved pages", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit clear", err)
	}

	for _, scope := range []Scope{ScopeTitle, ScopeSummary, ScopeChunk} {
		s.graphs[scope] = newVectorIndex(s.dims)
	}
	if s.mirror != nil {
		if err := s.mirror.reset(); err != nil {
			s.markStale(err)
		} else if err := s.rebuildMirror(ctx); err != nil {
			s.markStale(err)
		}
	}
	slog.Info("store_cleared")
	return nil
}

// Close checkpoints and closes the database, the mirror and the lock.
// Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.checkpoint(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, wrapErr("close database", err))
	}
	if s.mirror != nil {
		if err := s.mirror.close(); err != nil {
			errs = append(errs, fmt.Errorf("close bleve mirror: %w", err))
		}
	}
	s.graphs = nil
	s.unlock()
	return errors.Join(errs...)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// inClause returns "?,?,?" for n placeholders and the args.
func inClause[T any](ids []T) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
