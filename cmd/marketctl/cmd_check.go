package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the instrument catalog against live exchange listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			mismatches := a.Listings.Check(cmd.Context(), a.Catalog)
			if len(mismatches) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "all %d instruments are listed\n", len(a.Catalog))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tEXCHANGE\tREASON")
			for _, m := range mismatches {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Symbol, m.Exchange, m.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return fmt.Errorf("%d catalog entries are not tradable", len(mismatches))
		},
	}
}
