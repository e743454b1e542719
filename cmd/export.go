package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a journal table as CSV",
	Long: `Dumps one journal table from Postgres as CSV for offline analysis in
pandas or a spreadsheet. Valid tables: attempts, markets, snapshots,
parameters, lifecycle.

Example:
  updown-pairs export --table attempts --output attempts.csv
  updown-pairs export --table snapshots --after 2026-02-01 > snapshots.csv`,
	RunE: runExport,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("table", "t", "attempts", "Table to export")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().String("after", "", "Only rows at or after this time (RFC3339 or YYYY-MM-DD)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	table, _ := cmd.Flags().GetString("table")
	output, _ := cmd.Flags().GetString("output")
	afterRaw, _ := cmd.Flags().GetString("after")

	after, err := parseAfter(afterRaw)
	if err != nil {
		return err
	}

	store, logger, err := openAnalyticsStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = logger.Sync()
	}()

	columns, records, err := store.ExportTable(ctx, strings.ToLower(table), after)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer func() {
			_ = f.Close()
		}()
		out = f
	}

	if err := writeCSV(out, columns, records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	if output != "" {
		fmt.Printf("Exported %d rows to %s\n", len(records), output)
	}

	return nil
}

func writeCSV(out io.Writer, columns []string, records [][]string) error {
	w := csv.NewWriter(out)
	if err := w.Write(columns); err != nil {
		return err
	}
	// WriteAll flushes and surfaces any buffered write error.
	return w.WriteAll(records)
}
