package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"market-pulse/internal/models"

	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	var (
		tf     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the cached structure summary and audit report of a timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			fs, err := a.Cache.Load(cmd.Context(), tf)
			if err != nil {
				return fmt.Errorf("no cached %s structure: %w", tf, err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(fs.AuditReport)
			}
			return printSummary(cmd.OutOrStdout(), fs)
		},
	}
	cmd.Flags().StringVarP(&tf, "timeframe", "t", "4h", "timeframe to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the audit report as JSON")
	return cmd
}

func printSummary(out io.Writer, fs *models.FinalStructure) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "timeframe\t%s\n", fs.Timeframe)
	if fs.OpenTime != nil && fs.CloseTime != nil {
		fmt.Fprintf(w, "window\t%d - %d\n", *fs.OpenTime, *fs.CloseTime)
	}
	fmt.Fprintf(w, "instruments\t%d\n", len(fs.Data))
	fmt.Fprintf(w, "records\t%d\n", fs.RecordCount())
	fmt.Fprintf(w, "missing klines\t%s\n", listOrNone(fs.AuditReport.MissingKlines))
	fmt.Fprintf(w, "missing oi\t%s\n", listOrNone(fs.AuditReport.MissingOI))
	fmt.Fprintf(w, "missing fr\t%s\n", listOrNone(fs.AuditReport.MissingFR))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SYMBOL\tEXCHANGES\tRECORDS")
	for _, s := range fs.Data {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.Symbol, strings.Join(s.Exchanges, ","), len(s.Data))
	}
	return w.Flush()
}

func listOrNone(symbols []string) string {
	if len(symbols) == 0 {
		return "-"
	}
	return strings.Join(symbols, ", ")
}
