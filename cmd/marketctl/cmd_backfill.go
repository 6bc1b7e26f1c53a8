package main

import (
	"market-pulse/internal/importer"

	"github.com/spf13/cobra"
)

func backfillCmd() *cobra.Command {
	var timeframes []string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch and merge every configured timeframe with progress output",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			job := &importer.ImportJob{Timeframes: timeframes}
			if len(job.Timeframes) == 0 {
				job.Timeframes = a.Config.Aggregation.Timeframes
			}

			a.Logger.Infof("🚀 Starting backfill: %s", job.String())
			imp := importer.New(a.Pipeline, a.Lock, len(a.Catalog), a.Logger)
			if err := imp.Import(cmd.Context(), job); err != nil {
				return err
			}
			a.Logger.Info("✅ Backfill completed successfully!")
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&timeframes, "timeframe", "t", nil, "timeframes to backfill (default: configured timeframes)")
	return cmd
}
