package index

import (
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTrackerCapacity is the number of finished jobs kept for status
// output.
const DefaultTrackerCapacity = 256

// JobStatus is an immutable snapshot of one URL's latest job.
type JobStatus struct {
	URL       string    `json:"url"`
	State     State     `json:"state"`
	History   []State   `json:"history"`
	Result    Result    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackerSnapshot summarizes the tracker.
type TrackerSnapshot struct {
	Active   []JobStatus `json:"active"`
	Recent   []JobStatus `json:"recent"`
	Indexed  int         `json:"indexed"`
	TextOnly int         `json:"text_only"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
}

// Tracker records per-URL job state. Running jobs are kept until they
// finish; finished jobs live in a bounded LRU.
type Tracker struct {
	mu       sync.RWMutex
	now      func() time.Time
	active   map[string]*JobStatus
	finished *lru.Cache[string, JobStatus]
	results  map[Result]int
	failed   int
}

// NewTracker creates a tracker keeping up to capacity finished jobs.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	finished, _ := lru.New[string, JobStatus](capacity)
	return &Tracker{
		now:      time.Now,
		active:   make(map[string]*JobStatus),
		finished: finished,
		results:  make(map[Result]int),
	}
}

func (t *Tracker) begin(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.active[url] = &JobStatus{
		URL:       url,
		State:     StateIdle,
		History:   []State{StateIdle},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (t *Tracker) transition(url string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[url]
	if !ok || job.State.Terminal() {
		return
	}
	job.State = s
	job.History = append(job.History, s)
	job.UpdatedAt = t.now()
}

func (t *Tracker) done(url string, result Result) {
	t.finish(url, StateDone, func(job *JobStatus) {
		job.Result = result
		t.results[result]++
	})
}

func (t *Tracker) fail(url string, err error) {
	t.finish(url, StateFailed, func(job *JobStatus) {
		job.Error = err.Error()
		t.failed++
	})
}

func (t *Tracker) finish(url string, s State, apply func(*JobStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.active[url]
	if !ok {
		return
	}
	delete(t.active, url)
	job.State = s
	job.History = append(job.History, s)
	job.UpdatedAt = t.now()
	apply(job)
	t.finished.Add(url, *job)
}

// Get returns the running or most recent job for url.
func (t *Tracker) Get(url string) (JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if job, ok := t.active[url]; ok {
		return cloneStatus(*job), true
	}
	job, ok := t.finished.Peek(url)
	if !ok {
		return JobStatus{}, false
	}
	return cloneStatus(job), true
}

// Snapshot returns running jobs, recent finished jobs (newest first) and
// result counters.
func (t *Tracker) Snapshot() TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TrackerSnapshot{
		Indexed:  t.results[ResultIndexed],
		TextOnly: t.results[ResultTextOnly],
		Skipped:  t.results[ResultSkipped],
		Failed:   t.failed,
	}
	for _, job := range t.active {
		snap.Active = append(snap.Active, cloneStatus(*job))
	}
	slices.SortFunc(snap.Active, func(a, b JobStatus) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	recent := t.finished.Values()
	slices.Reverse(recent)
	for _, job := range recent {
		snap.Recent = append(snap.Recent, cloneStatus(job))
	}
	return snap
}

func cloneStatus(job JobStatus) JobStatus {
	job.History = slices.Clone(job.History)
	return job
}
