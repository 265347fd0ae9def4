package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/output"
	"github.com/Aman-CERP/pagesearch/internal/search"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func newSearchCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search visited pages",
		Long: `Search the pages you have visited with a natural-language query.

Results combine semantic matches on titles, summaries and passages with
keyword matches, then favor pages visited recently or often. When no
embedding provider is available the search falls back to keyword matches
and says so.`,
		Example: `  # Search for a page
  pagesearch search "that article about go generics"

  # Top 3 results as JSON
  pagesearch search -n 3 --format json "sqlite wal mode"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), limit, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default: search.max_results)")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")

	return cmd
}

func errUnknownFormat(format string) error {
	return apperr.New(apperr.ErrCodeInvalidArgument, fmt.Sprintf("unknown format %q", format), nil).
		WithSuggestion("use --format text or --format json")
}

func runSearch(cmd *cobra.Command, query string, limit int, format string) error {
	if format != formatText && format != formatJSON {
		return errUnknownFormat(format)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.engine.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	if format == formatJSON {
		return writeSearchJSON(cmd.OutOrStdout(), resp)
	}
	output.New(cmd.OutOrStdout()).SearchResults(resp)
	return nil
}

type searchResultJSON struct {
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	Snippet     string              `json:"snippet,omitempty"`
	Score       float64             `json:"score"`
	Fused       float64             `json:"fused"`
	Decay       float64             `json:"decay"`
	Boost       float64             `json:"boost"`
	Ranks       map[search.List]int `json:"ranks"`
	VisitCount  int                 `json:"visit_count"`
	LastVisited time.Time           `json:"last_visited"`
	Saved       bool                `json:"saved"`
}

type searchResponseJSON struct {
	Query       string             `json:"query"`
	Results     []searchResultJSON `json:"results"`
	LexicalOnly bool               `json:"lexical_only"`
	Notice      string             `json:"notice,omitempty"`
	TookMS      int64              `json:"took_ms"`
}

func writeSearchJSON(w io.Writer, resp *search.Response) error {
	out := searchResponseJSON{
		Query:       resp.Query,
		Results:     make([]searchResultJSON, 0, len(resp.Results)),
		LexicalOnly: resp.LexicalOnly,
		Notice:      resp.Notice,
		TookMS:      resp.Took.Milliseconds(),
	}
	for _, r := range resp.Results {
		item := searchResultJSON{
			URL:         r.Page.URL,
			Title:       r.Page.Title,
			Score:       r.Score,
			Fused:       r.Fused,
			Decay:       r.Decay,
			Boost:       r.Boost,
			Ranks:       r.Ranks,
			VisitCount:  r.Page.VisitCount,
			LastVisited: r.Page.LastVisited,
			Saved:       r.Page.Saved,
		}
		if r.Chunk != nil {
			item.Snippet = output.Snippet(r.Chunk.Text, output.SnippetRunes)
		} else {
			item.Snippet = output.Snippet(r.Page.Summary, output.SnippetRunes)
		}
		out.Results = append(out.Results, item)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
