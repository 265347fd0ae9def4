package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_EmptySummary(t *testing.T) {
	s := newTestStore(t)

	sum, err := s.Summary(context.Background(), 5)

	require.NoError(t, err)
	assert.Zero(t, sum.TotalQueries)
	assert.Zero(t, sum.ZeroResults)
	assert.Empty(t, sum.TopTerms)
	assert.NotNil(t, sum.Modes)
}

func TestStore_AppendAccumulatesAcrossDays(t *testing.T) {
	// Given: batches from two days
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Append(ctx, Batch{
		Day:       "2026-05-03",
		LastAt:    at.Add(-24 * time.Hour),
		Modes:     map[Mode]int64{ModeHybrid: 3},
		Latencies: map[LatencyBucket]int64{BucketP10: 3},
		Terms:     map[string]int64{"sqlite": 2, "golang": 1},
		ZeroCount: 1,
		ZeroQuery: []QueryEvent{{Query: "zebra", At: at.Add(-24 * time.Hour)}},
	}))
	require.NoError(t, s.Append(ctx, Batch{
		Day:       "2026-05-04",
		LastAt:    at,
		Modes:     map[Mode]int64{ModeHybrid: 1, ModeLexicalOnly: 2},
		Latencies: map[LatencyBucket]int64{BucketP50: 3},
		Terms:     map[string]int64{"golang": 4},
		ZeroCount: 2,
		ZeroQuery: []QueryEvent{{Query: "okapi", At: at}, {Query: "quokka", At: at}},
	}))

	// When: summarizing with room for two terms
	sum, err := s.Summary(ctx, 2)

	// Then: counts add up across days, newest misses first
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum.TotalQueries)
	assert.Equal(t, int64(4), sum.Modes[ModeHybrid])
	assert.Equal(t, int64(2), sum.Modes[ModeLexicalOnly])
	assert.Equal(t, int64(3), sum.Latencies[BucketP10])
	assert.Equal(t, int64(3), sum.ZeroResults)
	assert.Equal(t, []TermCount{{Term: "golang", Count: 5}, {Term: "sqlite", Count: 2}}, sum.TopTerms)
	assert.Equal(t, []string{"quokka", "okapi"}, sum.RecentZeroResult)
}

func TestStore_TrimsZeroResultQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	queries := make([]QueryEvent, defaultZeroCapacity+5)
	for i := range queries {
		queries[i] = QueryEvent{Query: "missing", At: at}
	}
	require.NoError(t, s.Append(ctx, Batch{Day: "2026-05-04", ZeroQuery: queries, ZeroCount: int64(len(queries))}))

	var kept int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zero_result_queries`).Scan(&kept))

	assert.Equal(t, defaultZeroCapacity, kept)
}

func TestStore_MetricsRoundTripOnDisk(t *testing.T) {
	// Given: a file-backed store fed through Metrics
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", DefaultDBName)
	s, err := OpenStore(ctx, path)
	require.NoError(t, err)
	m := NewMetrics(s)
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1, At: at})
	require.NoError(t, m.Flush(ctx))
	require.NoError(t, s.Close())

	// When: reopening the file
	s, err = OpenStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	sum, err := s.Summary(ctx, 5)

	// Then: the flushed search survived
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalQueries)
	assert.Equal(t, []TermCount{{Term: "sqlite", Count: 1}}, sum.TopTerms)
}
