package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

func TestWriteXLSX(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)
	marked := time.Date(2026, 3, 9, 8, 15, 30, 0, time.Local)
	rows := []ledger.Row{
		{IdentityID: 7, Name: "Ana", Course: "5B", Status: ledger.StatusPresent, MarkedAt: &marked},
		{IdentityID: 3, Name: "Bruno", Course: "5B", Status: ledger.StatusAbsent},
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, day, rows); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("output is not a workbook: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"Name", "Course", "Status", "Marked at"},
		{"Ana", "5B", "present", "2026-03-09 08:15:30"},
		{"Bruno", "5B", "absent"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		for len(got[i]) > 0 && got[i][len(got[i])-1] == "" {
			got[i] = got[i][:len(got[i])-1]
		}
		if len(got[i]) != len(want[i]) {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
			continue
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("cell (%d,%d) = %q, want %q", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestWriteXLSXEmptyDay(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, time.Now(), nil); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(SheetName)
	if len(rows) != 1 {
		t.Errorf("got %d rows, want only the header", len(rows))
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 3, 9, 14, 5, 9, 0, time.UTC)
	if got := FileName(at); got != "attendance_20260309_140509.xlsx" {
		t.Errorf("FileName() = %q", got)
	}
}
