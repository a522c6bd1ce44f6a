package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/rollcall/pkg/export"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark every student absent for a day",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a day's attendance to an Excel workbook",
	Long: `Write a day's attendance to an Excel workbook.

Examples:
  rollcall export
  rollcall export --date 2026-03-09 -o monday.xlsx`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(resetCmd, exportCmd)

	resetCmd.Flags().String("date", "", "Day to reset (YYYY-MM-DD, default today)")
	exportCmd.Flags().String("date", "", "Day to export (YYYY-MM-DD, default today)")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default attendance_<timestamp>.xlsx)")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	day, err := parseDay(mustGetString(cmd, "date"), time.Now())
	if err != nil {
		return err
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	n, err := l.ResetDay(ctx, day)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d student(s) absent for %s.\n", n, ledger.DayKey(day))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	now := time.Now()

	day, err := parseDay(mustGetString(cmd, "date"), now)
	if err != nil {
		return err
	}
	out := mustGetString(cmd, "output")
	if out == "" {
		out = export.FileName(now)
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	rows, err := l.Day(ctx, day)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.WriteXLSX(f, day, rows); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	present := 0
	for _, r := range rows {
		if r.Status == ledger.StatusPresent {
			present++
		}
	}
	fmt.Printf("Exported %s: %d of %d present -> %s\n", ledger.DayKey(day), present, len(rows), out)
	return nil
}
