package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"confsched/internal/ics"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "import",
		Aliases: []string{"i"},
		Short:   "Fetch every configured ICS source once and store the events",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(cfg.ICS) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no ICS sources configured")
				return nil
			}

			importer := ics.NewImporter(ics.NewFetcher(cfg.CacheDir), st, cfg.Location())
			results, importErr := importer.Import(ctx, cfg.ICS)

			out := cmd.OutOrStdout()
			for _, r := range results {
				switch {
				case r.Skipped:
					fmt.Fprintf(out, "%s: no occurrences in window\n", r.SourceID)
				case r.FromCache:
					fmt.Fprintf(out, "%s: %d entries (cached feed)\n", r.SourceID, r.Entries)
				default:
					fmt.Fprintf(out, "%s: %d entries\n", r.SourceID, r.Entries)
				}
			}
			return importErr
		},
	}
}
