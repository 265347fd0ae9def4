package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/output"
	"github.com/Aman-CERP/pagesearch/internal/store"
	"github.com/Aman-CERP/pagesearch/internal/telemetry"
)

// statusTopTerms bounds the query terms and empty queries shown.
const statusTopTerms = 5

type statusJSON struct {
	DataDir        string              `json:"data_dir"`
	Provider       string              `json:"provider"`
	Model          string              `json:"model"`
	Dimension      int                 `json:"dimension"`
	LexicalBackend string              `json:"lexical_backend"`
	Pages          int                 `json:"pages"`
	Chunks         int                 `json:"chunks"`
	SavedPages     int                 `json:"saved_pages"`
	PagesNoVectors int                 `json:"pages_without_vectors"`
	NeedsReindex   int                 `json:"needs_reindex"`
	VectorNodes    map[store.Scope]int `json:"vector_nodes"`
	Orphans        map[store.Scope]int `json:"orphans"`
	DBSizeBytes    int64               `json:"db_size_bytes"`
	Queries        *telemetry.Summary  `json:"queries,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		Long: `Show the size and health of the local index: page and passage counts,
the embedding model and dimension, and how many pages are waiting to be
re-embedded.`,
		Example: `  pagesearch status
  pagesearch status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatText && format != formatJSON {
				return errUnknownFormat(format)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			queries, hasQueries, err := a.querySummary(ctx, statusTopTerms)
			if err != nil {
				return err
			}

			if format == formatJSON {
				out := statusJSON{
					DataDir:        a.cfg.DataDir,
					Provider:       a.cfg.Embeddings.Provider,
					Model:          stats.Model,
					Dimension:      stats.Dimension,
					LexicalBackend: string(stats.LexicalBackend),
					Pages:          stats.Pages,
					Chunks:         stats.Chunks,
					SavedPages:     stats.SavedPages,
					PagesNoVectors: stats.PagesNoVectors,
					NeedsReindex:   stats.NeedsReindex,
					VectorNodes:    stats.VectorNodes,
					Orphans:        stats.Orphans,
					DBSizeBytes:    stats.DBSizeBytes,
				}
				if hasQueries {
					out.Queries = &queries
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			out := output.New(cmd.OutOrStdout())
			out.KeyValue("data dir", a.cfg.DataDir)
			out.KeyValue("provider", a.cfg.Embeddings.Provider)
			out.Newline()
			out.Stats(stats)
			if hasQueries && queries.TotalQueries > 0 {
				out.Newline()
				out.Queries(queries)
			}
			if stats.NeedsReindex > 0 {
				out.Newline()
				out.Status("💡", "Run 'pagesearch reindex' to re-embed flagged pages")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "Output format: text, json")

	return cmd
}
