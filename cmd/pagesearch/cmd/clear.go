package cmd

import (
	"github.com/spf13/cobra"

	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every indexed page",
		Long: `Remove all indexed pages, passages and vectors from the store.

Saved pages keep their URL, title and saved flag and are indexed again
on their next visit.`,
		Example: `  pagesearch clear --yes`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return apperr.New(apperr.ErrCodeInvalidArgument, "refusing to clear the index without confirmation", nil).
					WithSuggestion("run 'pagesearch clear --yes'")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.ClearIndex(ctx); err != nil {
				return err
			}
			if err := a.store.Save(ctx); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Success("Index cleared (saved pages kept)")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm clearing the index")

	return cmd
}
