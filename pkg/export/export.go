// Package export writes a day of attendance as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

// SheetName is the name of the single worksheet.
const SheetName = "Attendance"

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// TimeLayout formats the marked-at column.
const TimeLayout = "2006-01-02 15:04:05"

var header = []interface{}{"Name", "Course", "Status", "Marked at"}

// FileName returns the download name for an export created at t.
func FileName(t time.Time) string {
	return "attendance_" + t.Format("20060102_150405") + ".xlsx"
}

// WriteXLSX writes rows as a workbook to w. The first row is a header;
// the sheet title cell carries the day.
func WriteXLSX(w io.Writer, day time.Time, rows []ledger.Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Attendance " + ledger.DayKey(day),
		Creator: "rollcall",
	}); err != nil {
		return fmt.Errorf("set properties: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range rows {
		marked := ""
		if r.MarkedAt != nil {
			marked = r.MarkedAt.Local().Format(TimeLayout)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{r.Name, r.Course, string(r.Status), marked}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 30); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "B", "C", 12); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "D", "D", 20); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
