package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/search"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/internal/telemetry"
)

// SnippetRunes caps the passage shown under each search result.
const SnippetRunes = 160

// SearchResults prints a ranked result list with any degradation notice.
func (w *Writer) SearchResults(resp *search.Response) {
	if resp.Notice != "" {
		w.Warning(resp.Notice)
	}
	if len(resp.Results) == 0 {
		w.Statusf("🔍", "No results for %q", resp.Query)
		return
	}

	for i, r := range resp.Results {
		title := r.Page.Title
		if title == "" {
			title = r.Page.URL
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1,
			w.styles.Title.Render(title),
			w.styles.Score.Render(fmt.Sprintf("(%.4f)", r.Score)))
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.URL.Render(r.Page.URL))
		if r.Chunk != nil {
			_, _ = fmt.Fprintf(w.out, "    %s\n", Snippet(r.Chunk.Text, SnippetRunes))
		}

		matched := make([]string, len(r.MatchedBy))
		for j, l := range r.MatchedBy {
			matched[j] = fmt.Sprintf("%s#%d", l, r.Ranks[l])
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Dim.Render(fmt.Sprintf(
			"matched %s · visits %d · last %s · decay %.2f · boost %.2f",
			strings.Join(matched, " "), r.Page.VisitCount,
			r.Page.LastVisited.Format(time.DateOnly), r.Decay, r.Boost)))
	}
}

// Outcome prints the result of one indexing call.
func (w *Writer) Outcome(o index.Outcome) {
	shared := ""
	if o.Shared {
		shared = ", joined running job"
	}
	switch o.Result {
	case index.ResultSkipped:
		w.Statusf("⏭️ ", "%s unchanged%s", o.URL, shared)
	case index.ResultTextOnly:
		w.Warningf("%s stored text-only (%d chunks, needs reindex)%s", o.URL, o.Chunks, shared)
	default:
		w.Successf("%s indexed (%d chunks, %s)%s", o.URL, o.Chunks, o.Duration.Round(time.Millisecond), shared)
	}
}

// Stats prints the store summary.
func (w *Writer) Stats(s *store.Stats) {
	w.Header("Index")
	w.KeyValue("pages", s.Pages)
	w.KeyValue("chunks", s.Chunks)
	w.KeyValue("saved", s.SavedPages)
	w.KeyValue("without vectors", s.PagesNoVectors)
	w.KeyValue("needs reindex", s.NeedsReindex)
	w.KeyValue("dimension", s.Dimension)
	w.KeyValue("model", s.Model)
	w.KeyValue("lexical backend", s.LexicalBackend)
	for _, scope := range []store.Scope{store.ScopeTitle, store.ScopeSummary, store.ScopeChunk} {
		w.KeyValue(string(scope)+" vectors", fmt.Sprintf("%d (%d orphaned)", s.VectorNodes[scope], s.Orphans[scope]))
	}
	if s.DBSizeBytes > 0 {
		w.KeyValue("database size", fmt.Sprintf("%.1f MiB", float64(s.DBSizeBytes)/(1<<20)))
	}
}

// Jobs prints the indexing tracker.
func (w *Writer) Jobs(snap index.TrackerSnapshot) {
	w.Header("Indexing")
	w.KeyValue("indexed", snap.Indexed)
	w.KeyValue("text only", snap.TextOnly)
	w.KeyValue("skipped", snap.Skipped)
	w.KeyValue("failed", snap.Failed)
	for _, j := range snap.Active {
		w.Statusf("⏳", "%s %s", j.State, j.URL)
	}
	for _, j := range snap.Recent {
		if j.Error != "" {
			w.Errorf("%s: %s", j.URL, j.Error)
		}
	}
}

// Queries prints the local query statistics. Nothing is printed before
// the first recorded search.
func (w *Writer) Queries(s telemetry.Summary) {
	if s.TotalQueries == 0 {
		return
	}
	w.Header("Queries")
	w.KeyValue("total", s.TotalQueries)
	for _, mode := range []telemetry.Mode{telemetry.ModeHybrid, telemetry.ModePartial, telemetry.ModeLexicalOnly} {
		if n := s.Modes[mode]; n > 0 {
			w.KeyValue(string(mode), fmt.Sprintf("%d (%.0f%%)", n, 100*float64(n)/float64(s.TotalQueries)))
		}
	}
	w.KeyValue("no results", s.ZeroResults)
	if len(s.TopTerms) > 0 {
		terms := make([]string, len(s.TopTerms))
		for i, tc := range s.TopTerms {
			terms[i] = fmt.Sprintf("%s (%d)", tc.Term, tc.Count)
		}
		w.KeyValue("top terms", strings.Join(terms, ", "))
	}
	for _, q := range s.RecentZeroResult {
		w.Statusf("∅", "%q", q)
	}
}

// Snippet collapses whitespace and truncates text to n runes.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
