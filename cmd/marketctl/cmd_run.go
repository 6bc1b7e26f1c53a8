package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var tf string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation cycle under the global lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.RunLocked(cmd.Context(), tf)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d instruments, %d records in %s\n",
				tf, len(result.Structure.Data), result.Structure.RecordCount(), result.Duration)
			if result.Derived != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d instruments, %d records\n",
					result.Derived.Timeframe, len(result.Derived.Data), result.Derived.RecordCount())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tf, "timeframe", "t", "4h", "timeframe to aggregate")
	return cmd
}
