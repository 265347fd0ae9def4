package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pagesearch/internal/output"
)

func newSavedCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "saved <url>",
		Short: "Toggle or check the saved flag of a page",
		Long: `Flip the saved flag of a page, or with --check print it unchanged.

Saving a URL that has never been indexed creates an empty entry for it.
Saved pages are kept when the index is cleared.`,
		Example: `  # Save a page
  pagesearch saved https://go.dev/blog/loopvar-preview

  # Check whether it is saved
  pagesearch saved --check https://go.dev/blog/loopvar-preview`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			url := args[0]
			var saved bool
			if check {
				saved, err = a.store.IsSaved(ctx, url)
			} else {
				saved, err = a.store.ToggleSaved(ctx, url)
			}
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if saved {
				out.Statusf("⭐", "%s is saved", url)
			} else {
				out.Statusf("☆", "%s is not saved", url)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Print the flag without changing it")

	return cmd
}
