package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

// maxRecordBytes bounds one JSON lines record.
const maxRecordBytes = 16 << 20

// pageRecord is one page in JSON lines input.
type pageRecord struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Synopsis  string    `json:"synopsis,omitempty"`
	VisitedAt time.Time `json:"visited_at,omitzero"`
}

func (r pageRecord) pageContext() index.PageContext {
	return index.PageContext{
		URL:       r.URL,
		Title:     r.Title,
		Text:      r.Text,
		Synopsis:  r.Synopsis,
		VisitedAt: r.VisitedAt,
	}
}

// readRecords calls fn for every non-blank line of r.
func readRecords(r io.Reader, fn func(pageRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec pageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return apperr.New(apperr.ErrCodeInvalidArgument, fmt.Sprintf("line %d is not a page record", line), err).
				WithSuggestion(`each line must be a JSON object like {"url": "...", "title": "...", "text": "..."}`)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperr.New(apperr.ErrCodeInvalidArgument, "read page records", err)
	}
	return nil
}

// openInput opens the named file, or stdin for "" and "-".
func openInput(cmd *cobra.Command, name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, apperr.New(apperr.ErrCodeInvalidArgument, fmt.Sprintf("open %s", name), err)
	}
	return f, nil
}

func newIndexCmd() *cobra.Command {
	var (
		rec   pageRecord
		jsonl bool
	)

	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Index a visited page",
		Long: `Index one page, or a batch of pages, into the local store.

A single page is read as plain text from the file argument or stdin and
described by --url and --title. With --jsonl, every line of the input is a
JSON object with url, title, text and optional synopsis and visited_at
fields; the batch is indexed by the background workers.

Each call counts as a visit. Pages whose content has not changed since
they were last indexed are not re-embedded.`,
		Example: `  # Index a page from a text file
  pagesearch index --url https://go.dev/doc/effective_go --title "Effective Go" page.txt

  # Index extracted page text from another tool
  extract https://example.com | pagesearch index --url https://example.com --title Example

  # Index a batch
  pagesearch index --jsonl history.jsonl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			if jsonl {
				return runIndexBatch(cmd, input)
			}
			return runIndexPage(cmd, input, rec)
		},
	}

	cmd.Flags().StringVar(&rec.URL, "url", "", "Page URL")
	cmd.Flags().StringVar(&rec.Title, "title", "", "Page title")
	cmd.Flags().StringVar(&rec.Synopsis, "synopsis", "", "Externally produced page summary")
	cmd.Flags().BoolVar(&jsonl, "jsonl", false, "Read JSON lines page records")

	return cmd
}

func runIndexPage(cmd *cobra.Command, input string, rec pageRecord) error {
	if rec.URL == "" {
		return apperr.New(apperr.ErrCodeInvalidArgument, "--url is required", nil).
			WithSuggestion("pass --url, or use --jsonl for records that carry their own URL")
	}

	in, err := openInput(cmd, input)
	if err != nil {
		return err
	}
	text, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return apperr.New(apperr.ErrCodeInvalidArgument, "read page text", err)
	}
	rec.Text = string(text)

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	outcome, err := a.pipeline.IndexPage(ctx, rec.pageContext())
	if err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Outcome(outcome)
	return nil
}

func runIndexBatch(cmd *cobra.Command, input string) error {
	in, err := openInput(cmd, input)
	if err != nil {
		return err
	}
	var records []pageRecord
	err = readRecords(in, func(rec pageRecord) error {
		records = append(records, rec)
		return nil
	})
	_ = in.Close()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := output.New(cmd.OutOrStdout())
	failed, err := indexAll(ctx, a, records, out)
	if err != nil {
		return err
	}

	out.Newline()
	out.Successf("Processed %d pages", len(records)-failed)
	if failed > 0 {
		return apperr.New(apperr.ErrCodePipelineFailed,
			fmt.Sprintf("%d of %d pages failed to index", failed, len(records)), nil)
	}
	return nil
}

// indexAll runs records through a scheduler sized to hold all of them and
// waits until every job has finished or ctx is done.
func indexAll(ctx context.Context, a *app, records []pageRecord, out *output.Writer) (int, error) {
	var (
		mu     sync.Mutex
		failed int
		jobs   sync.WaitGroup
	)
	sched, err := index.NewScheduler(a.pipeline, index.SchedulerConfig{
		Workers:   a.cfg.Indexing.Workers,
		QueueSize: max(a.cfg.Indexing.QueueSize, len(records)),
		Retry:     apperr.DefaultRetryConfig(),
		OnDone: func(pc index.PageContext, o index.Outcome, err error) {
			defer jobs.Done()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				out.Errorf("%s: %v", pc.URL, err)
				return
			}
			out.Outcome(o)
		},
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range records {
		jobs.Add(1)
		if err := sched.Submit(rec.pageContext()); err != nil {
			jobs.Done()
			mu.Lock()
			failed++
			out.Errorf("%s: %v", rec.URL, err)
			mu.Unlock()
		}
	}

	finished := make(chan struct{})
	go func() {
		jobs.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}

	if err := sched.Shutdown(a.cfg.Indexing.ShutdownTimeoutDuration()); err != nil {
		return failed, err
	}
	if err := ctx.Err(); err != nil {
		return failed, err
	}
	return failed, nil
}
