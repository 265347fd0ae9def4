// Package telemetry keeps local statistics about search queries: how
// often searches ran hybrid or fell back to keywords, how long they took,
// which terms come up, and which queries found nothing. Nothing leaves the
// data directory.
package telemetry

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/pagesearch/internal/store"
)

// Mode classifies how a search was answered.
type Mode string

const (
	// ModeHybrid used every vector and keyword list.
	ModeHybrid Mode = "hybrid"
	// ModePartial lost some lists to store failures.
	ModePartial Mode = "partial"
	// ModeLexicalOnly ran without a query embedding.
	ModeLexicalOnly Mode = "lexical_only"
)

// LatencyBucket is a search latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Query   string
	Mode    Mode
	Results int
	Latency time.Duration
	At      time.Time
}

// TermCount is a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary aggregates recorded queries.
type Summary struct {
	TotalQueries int64                   `json:"total_queries"`
	ZeroResults  int64                   `json:"zero_results"`
	Modes        map[Mode]int64          `json:"modes"`
	Latencies    map[LatencyBucket]int64 `json:"latencies"`
	TopTerms     []TermCount             `json:"top_terms"`

	// RecentZeroResult lists the latest queries that found nothing,
	// newest first.
	RecentZeroResult []string `json:"recent_zero_result"`
}

// Sink persists flushed metrics.
type Sink interface {
	Append(ctx context.Context, batch Batch) error
}

// Batch is everything recorded since the previous flush.
type Batch struct {
	Day       string
	LastAt    time.Time
	Modes     map[Mode]int64
	Latencies map[LatencyBucket]int64
	Terms     map[string]int64

	// ZeroCount counts every zero-result query; ZeroQuery keeps only the
	// newest of them.
	ZeroCount int64
	ZeroQuery []QueryEvent
}

func (b Batch) empty() bool {
	return len(b.Modes) == 0 && len(b.Terms) == 0 && len(b.ZeroQuery) == 0
}

const (
	defaultTermCapacity = 256
	defaultZeroCapacity = 100
)

// Metrics records query events in memory until Flush hands them to the
// sink. Term counts are bounded by an LRU so a long session cannot grow
// without limit.
type Metrics struct {
	sink Sink

	mu        sync.Mutex
	modes     map[Mode]int64
	latencies map[LatencyBucket]int64
	terms     *lru.Cache[string, int64]
	zero      []QueryEvent
	zeroCount int64
	day       string
	last      time.Time
}

// NewMetrics creates a recorder. A nil sink keeps everything in memory.
func NewMetrics(sink Sink) *Metrics {
	terms, _ := lru.New[string, int64](defaultTermCapacity)
	return &Metrics{
		sink:      sink,
		modes:     make(map[Mode]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     terms,
	}
}

// Record adds one event. Terms are the same stop-word-filtered terms the
// keyword search uses.
func (m *Metrics) Record(ev QueryEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.day == "" {
		m.day = ev.At.UTC().Format(time.DateOnly)
	}
	m.last = ev.At
	m.modes[ev.Mode]++
	m.latencies[LatencyToBucket(ev.Latency)]++
	for _, term := range store.QueryTerms(ev.Query) {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
	}
	if ev.Results == 0 {
		m.zeroCount++
		m.zero = append(m.zero, ev)
		if len(m.zero) > defaultZeroCapacity {
			m.zero = m.zero[len(m.zero)-defaultZeroCapacity:]
		}
	}
}

// Pending summarizes what has been recorded since the last flush.
func (m *Metrics) Pending() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Modes:     make(map[Mode]int64, len(m.modes)),
		Latencies: make(map[LatencyBucket]int64, len(m.latencies)),
	}
	for mode, n := range m.modes {
		s.Modes[mode] = n
		s.TotalQueries += n
	}
	for b, n := range m.latencies {
		s.Latencies[b] = n
	}
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	sortTerms(s.TopTerms)
	s.ZeroResults = m.zeroCount
	for i := len(m.zero) - 1; i >= 0; i-- {
		s.RecentZeroResult = append(s.RecentZeroResult, m.zero[i].Query)
	}
	return s
}

// Flush hands the pending counts to the sink and resets them. On failure
// the counts are kept for the next flush.
func (m *Metrics) Flush(ctx context.Context) error {
	if m.sink == nil {
		return nil
	}

	m.mu.Lock()
	batch := Batch{
		Day:       m.day,
		LastAt:    m.last,
		ZeroCount: m.zeroCount,
		Modes:     maps.Clone(m.modes),
		Latencies: maps.Clone(m.latencies),
		Terms:     make(map[string]int64, m.terms.Len()),
		ZeroQuery: slices.Clone(m.zero),
	}
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			batch.Terms[term] = n
		}
	}
	m.mu.Unlock()

	if batch.empty() {
		return nil
	}
	if err := m.sink.Append(ctx, batch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Events recorded during Append stay pending.
	for mode, n := range batch.Modes {
		m.modes[mode] -= n
		if m.modes[mode] <= 0 {
			delete(m.modes, mode)
		}
	}
	for b, n := range batch.Latencies {
		m.latencies[b] -= n
		if m.latencies[b] <= 0 {
			delete(m.latencies, b)
		}
	}
	for term, n := range batch.Terms {
		if cur, ok := m.terms.Peek(term); ok {
			if cur <= n {
				m.terms.Remove(term)
			} else {
				m.terms.Add(term, cur-n)
			}
		}
	}
	m.zero = m.zero[min(len(batch.ZeroQuery), len(m.zero)):]
	m.zeroCount -= batch.ZeroCount
	if len(m.modes) == 0 {
		m.day = ""
	}
	return nil
}

func sortTerms(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Term, b.Term)
	})
}
