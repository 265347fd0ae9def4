// Package index turns loaded pages into stored, searchable entries.
//
// A Pipeline runs one page through extracting, chunking, embedding and
// persisting. The Scheduler runs pipelines off the navigation path, the
// Tracker records per-URL job state for diagnostics, and the Coordinator
// applies settings changes once in-flight jobs have finished.
package index

import (
	"context"
	"fmt"
	"time"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/store"
)

// PageContext is what the content-extraction collaborator hands over for
// a loaded page.
type PageContext struct {
	URL   string
	Title string
	Text  string

	// Synopsis is an optional externally produced summary.
	Synopsis string

	// VisitedAt defaults to the pipeline clock.
	VisitedAt time.Time
}

// State is a step of the per-page state machine.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Result says what a finished job wrote.
type Result string

const (
	// ResultIndexed means text and vectors were written.
	ResultIndexed Result = "indexed"
	// ResultTextOnly means text was written without vectors because no
	// embedding provider is configured. The page is flagged for reindexing.
	ResultTextOnly Result = "text_only"
	// ResultSkipped means the stored entry was already current.
	ResultSkipped Result = "skipped"
)

// Outcome describes a successful job.
type Outcome struct {
	URL      string
	PageID   string
	Result   Result
	Chunks   int
	Duration time.Duration

	// Shared is true when the caller joined a job another caller started.
	Shared bool
}

// PipelineFailure reports the step at which a job stopped. Nothing was
// written for the page; its previous entry, if any, is still served.
type PipelineFailure struct {
	Step  State
	URL   string
	Cause error
}

func (f *PipelineFailure) Error() string {
	return fmt.Sprintf("index %s failed while %s: %v", f.URL, f.Step, f.Cause)
}

// Unwrap exposes an ERR_401 coded error ahead of the cause, so GetCode
// reports the pipeline failure while errors.As still reaches the cause.
func (f *PipelineFailure) Unwrap() []error {
	coded := apperr.New(apperr.ErrCodePipelineFailed, "indexing failed", nil).
		WithDetail("step", string(f.Step))
	return []error{coded, f.Cause}
}

func fail(step State, url string, cause error) *PipelineFailure {
	return &PipelineFailure{Step: step, URL: url, Cause: cause}
}

// Store is the part of the search store the indexing side writes through.
// *store.SQLiteStore implements it.
type Store interface {
	RecordVisit(ctx context.Context, url, title string, at time.Time) (string, error)
	GetPage(ctx context.Context, id string) (*store.Page, error)
	GetPageByURL(ctx context.Context, url string) (*store.Page, error)
	ChunksForPage(ctx context.Context, pageID string) ([]store.Chunk, error)
	PagesNeedingReindex(ctx context.Context, limit int) ([]*store.Page, error)
	IndexPage(ctx context.Context, w store.PageWrite) (string, error)
	ReconfigureDimension(ctx context.Context, newDim int) (int, error)
	Dimension() int
}

var _ Store = (*store.SQLiteStore)(nil)
