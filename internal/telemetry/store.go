package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// DefaultDBName is the telemetry database inside the data directory.
const DefaultDBName = "telemetry.db"

const schema = `
CREATE TABLE IF NOT EXISTS query_mode_stats (
	day   TEXT NOT NULL,
	mode  TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, mode)
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	day    TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, bucket)
);

CREATE TABLE IF NOT EXISTS query_zero_stats (
	day   TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	at    INTEGER NOT NULL
);
`

// Store persists query metrics in its own SQLite file, apart from the page
// index, so clearing or rebuilding the index keeps the statistics.
type Store struct {
	db *sql.DB
}

var _ Sink = (*Store)(nil)

// OpenStore opens or creates the telemetry database. An empty path opens
// a private in-memory database.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, apperr.StoreError("create telemetry directory", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.StoreError("open telemetry database", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperr.StoreError("create telemetry schema", err)
	}
	return &Store{db: db}, nil
}

// Append adds a flushed batch in one transaction. Only the newest
// defaultZeroCapacity zero-result queries are kept.
func (s *Store) Append(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.StoreError("begin telemetry write", err)
	}
	defer func() { _ = tx.Rollback() }()

	for mode, n := range b.Modes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_mode_stats (day, mode, count) VALUES (?, ?, ?)
			ON CONFLICT(day, mode) DO UPDATE SET count = count + excluded.count`,
			b.Day, string(mode), n); err != nil {
			return apperr.StoreError("write query modes", err)
		}
	}
	for bucket, n := range b.Latencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (day, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(day, bucket) DO UPDATE SET count = count + excluded.count`,
			b.Day, string(bucket), n); err != nil {
			return apperr.StoreError("write query latencies", err)
		}
	}

	if b.ZeroCount > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_zero_stats (day, count) VALUES (?, ?)
			ON CONFLICT(day) DO UPDATE SET count = count + excluded.count`,
			b.Day, b.ZeroCount); err != nil {
			return apperr.StoreError("write zero-result count", err)
		}
	}

	lastSeen := b.LastAt.UnixMilli()
	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count,
				last_seen = MAX(last_seen, excluded.last_seen)`,
			term, n, lastSeen); err != nil {
			return apperr.StoreError("write query terms", err)
		}
	}

	for _, ev := range b.ZeroQuery {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (query, at) VALUES (?, ?)`,
			ev.Query, ev.At.UnixMilli()); err != nil {
			return apperr.StoreError("write zero-result query", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM zero_result_queries WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
		defaultZeroCapacity); err != nil {
		return apperr.StoreError("trim zero-result queries", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.StoreError("commit telemetry write", err)
	}
	return nil
}

// Summary aggregates every stored day, with up to topN terms and
// zero-result queries.
func (s *Store) Summary(ctx context.Context, topN int) (Summary, error) {
	sum := Summary{
		Modes:     make(map[Mode]int64),
		Latencies: make(map[LatencyBucket]int64),
	}

	if err := scanCounts(ctx, s.db, `SELECT mode, SUM(count) FROM query_mode_stats GROUP BY mode`,
		func(key string, n int64) {
			sum.Modes[Mode(key)] = n
			sum.TotalQueries += n
		}); err != nil {
		return Summary{}, err
	}
	if err := scanCounts(ctx, s.db, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`,
		func(key string, n int64) { sum.Latencies[LatencyBucket(key)] = n }); err != nil {
		return Summary{}, err
	}
	if err := scanCounts(ctx, s.db, fmt.Sprintf(
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT %d`, max(topN, 0)),
		func(key string, n int64) { sum.TopTerms = append(sum.TopTerms, TermCount{Term: key, Count: n}) }); err != nil {
		return Summary{}, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(count), 0) FROM query_zero_stats`).Scan(&sum.ZeroResults); err != nil {
		return Summary{}, apperr.StoreError("count zero-result queries", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, max(topN, 0))
	if err != nil {
		return Summary{}, apperr.StoreError("read zero-result queries", err)
	}
	defer rows.Close()
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return Summary{}, apperr.StoreError("scan zero-result query", err)
		}
		sum.RecentZeroResult = append(sum.RecentZeroResult, q)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, apperr.StoreError("read zero-result queries", err)
	}
	return sum, nil
}

func scanCounts(ctx context.Context, db *sql.DB, query string, fn func(string, int64)) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return apperr.StoreError("read telemetry", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return apperr.StoreError("scan telemetry", err)
		}
		fn(key, n)
	}
	if err := rows.Err(); err != nil {
		return apperr.StoreError("read telemetry", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
