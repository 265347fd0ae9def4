package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/config"
	"github.com/Aman-CERP/pagesearch/internal/embed"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

// settingsFlags are the overrides accepted by reconfigure.
type settingsFlags struct {
	provider     string
	endpoint     string
	model        string
	dimensions   int
	chunkSize    int
	chunkOverlap int
}

func (f settingsFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Embeddings.Provider = f.provider
	}
	if flags.Changed("endpoint") {
		cfg.Embeddings.Endpoint = f.endpoint
	}
	if flags.Changed("model") {
		cfg.Embeddings.Model = f.model
	}
	if flags.Changed("dimensions") {
		cfg.Embeddings.Dimensions = f.dimensions
	}
	if flags.Changed("chunk-size") {
		cfg.Indexing.ChunkSize = f.chunkSize
	}
	if flags.Changed("chunk-overlap") {
		cfg.Indexing.ChunkOverlap = f.chunkOverlap
	}
}

func newReconfigureCmd() *cobra.Command {
	var (
		flags     settingsFlags
		write     bool
		noReindex bool
	)

	cmd := &cobra.Command{
		Use:   "reconfigure",
		Short: "Switch the embedding provider or chunking settings",
		Long: `Apply new embedding or chunking settings to the existing index.

When the embedding dimension changes, vectors of the old dimension are
dropped and every affected page is flagged. Flagged pages are then
re-embedded from their stored text unless --no-reindex is given; until
then they are still found by keyword search.

With --write the new settings are saved to the config file, after
backing up the previous version.`,
		Example: `  # Switch to a local Ollama model
  pagesearch reconfigure --provider ollama --model nomic-embed-text --dimensions 768

  # Turn embeddings off and keep the change
  pagesearch reconfigure --provider none --write`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconfigure(cmd, flags, write, noReindex)
		},
	}

	cmd.Flags().StringVar(&flags.provider, "provider", "", fmt.Sprintf("Embedding provider %v", embed.ValidProviders()))
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "Provider endpoint URL")
	cmd.Flags().StringVar(&flags.model, "model", "", "Embedding model")
	cmd.Flags().IntVar(&flags.dimensions, "dimensions", 0, "Embedding dimension")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, "Chunk size in tokens")
	cmd.Flags().IntVar(&flags.chunkOverlap, "chunk-overlap", 0, "Chunk overlap in tokens")
	cmd.Flags().BoolVar(&write, "write", false, "Save the new settings to the config file")
	cmd.Flags().BoolVar(&noReindex, "no-reindex", false, "Only flag pages; do not re-embed them now")

	return cmd
}

func runReconfigure(cmd *cobra.Command, flags settingsFlags, write, noReindex bool) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	next := *a.cfg
	flags.apply(cmd, &next)
	if err := next.Validate(); err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	rc, err := a.switchProvider(ctx, &next)
	if err != nil {
		return err
	}
	out.Successf("Now embedding with %s", rc.Model)
	if rc.PreviousDimension != rc.Dimension {
		out.KeyValue("dimension", fmt.Sprintf("%d → %d", rc.PreviousDimension, rc.Dimension))
		out.KeyValue("pages flagged", rc.PagesFlagged)
	}

	if write {
		if err := writeSettings(out, &next); err != nil {
			return err
		}
	}

	if noReindex {
		return nil
	}
	return reindexPending(cmd, a, 0)
}

// writeSettings saves cfg to the explicit or user config file.
func writeSettings(out *output.Writer, cfg *config.Config) error {
	path := configPath
	if path == "" {
		path = config.GetUserConfigPath()
	}
	backup, err := config.BackupFile(path)
	if err != nil {
		return err
	}
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	out.Statusf("📁", "Saved settings to %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	return nil
}

func newReindexCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed pages flagged for reindexing",
		Long: `Re-embed pages that were stored text-only or lost their vectors in a
dimension change. Pages are re-embedded from their stored text, most
recently visited first.`,
		Example: `  # Re-embed everything pending
  pagesearch reindex

  # Re-embed the 100 most recently visited pending pages
  pagesearch reindex --limit 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return reindexPending(cmd, a, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum pages to re-embed (0 = all)")

	return cmd
}

func reindexPending(cmd *cobra.Command, a *app, limit int) error {
	out := output.New(cmd.OutOrStdout())
	if embed.IsDisabled(a.pipeline.Embedder()) {
		out.Warning("No embedding provider configured; flagged pages stay keyword-only")
		return nil
	}

	report, err := a.coordinator.ReindexPending(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out.Successf("Re-embedded %d pages", report.Reembedded)
	if report.Skipped > 0 {
		out.KeyValue("skipped", report.Skipped)
	}
	if report.Failed > 0 {
		out.Warningf("%d pages failed and stay flagged", report.Failed)
	}
	return nil
}
