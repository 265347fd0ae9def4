package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

// recordingSink keeps every batch it is handed.
type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	err     error
	during  func()
}

func (s *recordingSink) Append(_ context.Context, b Batch) error {
	if s.during != nil {
		s.during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

func termCount(terms []TermCount, term string) int64 {
	for _, tc := range terms {
		if tc.Term == term {
			return tc.Count
		}
	}
	return 0
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestMetrics_RecordAggregates(t *testing.T) {
	// Given: a recorder without a sink
	m := NewMetrics(nil)

	// When: recording three searches, one of which found nothing
	m.Record(QueryEvent{Query: "sqlite generics", Mode: ModeHybrid, Results: 4, Latency: 5 * time.Millisecond, At: at})
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeLexicalOnly, Results: 2, Latency: 30 * time.Millisecond, At: at})
	m.Record(QueryEvent{Query: "zebra", Mode: ModeHybrid, Results: 0, Latency: 5 * time.Millisecond, At: at})

	// Then: the pending summary counts modes, buckets, terms and misses
	s := m.Pending()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.Modes[ModeHybrid])
	assert.Equal(t, int64(1), s.Modes[ModeLexicalOnly])
	assert.Equal(t, int64(2), s.Latencies[BucketP10])
	assert.Equal(t, int64(1), s.Latencies[BucketP50])
	assert.Equal(t, int64(1), s.ZeroResults)
	assert.Equal(t, []string{"zebra"}, s.RecentZeroResult)
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, "sqlite", s.TopTerms[0].Term)
	assert.Equal(t, int64(2), s.TopTerms[0].Count)
}

func TestMetrics_ZeroResultQueriesAreBounded(t *testing.T) {
	m := NewMetrics(nil)

	for i := range defaultZeroCapacity + 20 {
		q := "missing"
		if i == defaultZeroCapacity+19 {
			q = "newest"
		}
		m.Record(QueryEvent{Query: q, Mode: ModeHybrid, At: at})
	}

	s := m.Pending()
	assert.Len(t, s.RecentZeroResult, defaultZeroCapacity)
	assert.Equal(t, "newest", s.RecentZeroResult[0])
	assert.Equal(t, int64(defaultZeroCapacity+20), s.ZeroResults, "the count is not capped")
}

func TestMetrics_FlushHandsOffAndResets(t *testing.T) {
	// Given: two recorded searches
	sink := &recordingSink{}
	m := NewMetrics(sink)
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1, At: at})
	m.Record(QueryEvent{Query: "zebra", Mode: ModePartial, Results: 0, At: at.Add(time.Minute)})

	// When: flushing
	require.NoError(t, m.Flush(context.Background()))

	// Then: the sink got one batch and nothing is pending
	require.Len(t, sink.batches, 1)
	b := sink.batches[0]
	assert.Equal(t, "2026-05-04", b.Day)
	assert.Equal(t, at.Add(time.Minute), b.LastAt)
	assert.Equal(t, map[Mode]int64{ModeHybrid: 1, ModePartial: 1}, b.Modes)
	assert.Equal(t, int64(1), b.ZeroCount)
	require.Len(t, b.ZeroQuery, 1)
	assert.Equal(t, "zebra", b.ZeroQuery[0].Query)

	s := m.Pending()
	assert.Zero(t, s.TotalQueries)
	assert.Empty(t, s.TopTerms)
	assert.Empty(t, s.RecentZeroResult)

	// And: flushing again sends nothing
	require.NoError(t, m.Flush(context.Background()))
	assert.Len(t, sink.batches, 1)
}

func TestMetrics_FailedFlushKeepsCounts(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	m := NewMetrics(sink)
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1, At: at})

	err := m.Flush(context.Background())

	require.Error(t, err)
	assert.Equal(t, int64(1), m.Pending().TotalQueries)
}

func TestMetrics_EventsDuringFlushStayPending(t *testing.T) {
	// Given: a sink that sees a new search arrive mid-append
	sink := &recordingSink{}
	m := NewMetrics(sink)
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1, At: at})
	sink.during = func() {
		sink.during = nil
		m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1, At: at})
	}

	// When: flushing
	require.NoError(t, m.Flush(context.Background()))

	// Then: the late event is neither lost nor double counted
	s := m.Pending()
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), termCount(s.TopTerms, "sqlite"))
	assert.Equal(t, int64(1), sink.batches[0].Modes[ModeHybrid])
}

func TestMetrics_FlushWithoutSink(t *testing.T) {
	m := NewMetrics(nil)
	m.Record(QueryEvent{Query: "sqlite", Mode: ModeHybrid, Results: 1})

	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, int64(1), m.Pending().TotalQueries, "without a sink counts stay in memory")
}

func TestMetrics_ConcurrentRecord(t *testing.T) {
	m := NewMetrics(&recordingSink{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.Record(QueryEvent{Query: "golang", Mode: ModeHybrid, Results: 1, At: at})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Pending().TotalQueries)
}
