package main

import (
	"fmt"

	"market-pulse/internal/models"

	"github.com/spf13/cobra"
)

func enqueueCmd() *cobra.Command {
	var timeframes []string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue collection tasks for the workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, tf := range timeframes {
				task, err := a.Queue.Enqueue(cmd.Context(), models.Task{Timeframe: tf, Source: "cli"})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s task %s\n", task.Timeframe, task.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&timeframes, "timeframe", "t", []string{"4h"}, "timeframes to queue")
	return cmd
}
