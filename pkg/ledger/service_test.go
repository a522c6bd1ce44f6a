package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/ledger/memory"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(memory.New())
	t.Cleanup(func() { l.Close() })
	return l
}

func TestCreateIdentityValidation(t *testing.T) {
	tests := []struct {
		name    string
		ident   ledger.Identity
		wantErr bool
	}{
		{"valid", ledger.Identity{Name: "Ana", Course: "5B"}, false},
		{"trimmed", ledger.Identity{Name: "  Bruno  "}, false},
		{"empty name", ledger.Identity{Name: "   "}, true},
		{"long name", ledger.Identity{Name: strings.Repeat("x", 121)}, true},
		{"long course", ledger.Identity{Name: "Carla", Course: strings.Repeat("c", 61)}, true},
		{"negative id", ledger.Identity{ID: -1, Name: "Dora"}, true},
	}

	l := newLedger(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.ident
			err := l.CreateIdentity(context.Background(), &id)
			if tt.wantErr {
				if !errors.Is(err, ledger.ErrInvalidIdentity) {
					t.Errorf("CreateIdentity() error = %v, want ErrInvalidIdentity", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateIdentity() error = %v", err)
			}
			if id.Name != strings.TrimSpace(tt.ident.Name) {
				t.Errorf("Name = %q, want trimmed", id.Name)
			}
		})
	}
}

func TestMarkPresentThroughLedger(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	ana := ledger.Identity{Name: "Ana"}
	if err := l.CreateIdentity(ctx, &ana); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	want := []ledger.Outcome{ledger.Created, ledger.AlreadyPresent, ledger.AlreadyPresent}
	for i, w := range want {
		got, err := l.MarkPresent(ctx, ana.ID, at.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("MarkPresent #%d error = %v", i, err)
		}
		if got != w {
			t.Errorf("MarkPresent #%d = %v, want %v", i, got, w)
		}
	}

	if _, err := l.MarkPresent(ctx, 999, at); !errors.Is(err, ledger.ErrUnknownIdentity) {
		t.Errorf("MarkPresent(999) error = %v, want ErrUnknownIdentity", err)
	}

	rows, err := l.Day(ctx, at)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Name != "Ana" || rows[0].Status != ledger.StatusPresent {
		t.Errorf("Day() = %+v", rows)
	}
}

func TestRoster(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	for _, name := range []string{"Ana", "Bruno"} {
		id := ledger.Identity{Name: name}
		if err := l.CreateIdentity(ctx, &id); err != nil {
			t.Fatal(err)
		}
	}

	roster, err := l.Roster(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(roster) != 2 {
		t.Fatalf("Roster() has %d entries, want 2", len(roster))
	}
	names := map[string]bool{}
	for _, n := range roster {
		names[n] = true
	}
	if !names["Ana"] || !names["Bruno"] {
		t.Errorf("Roster() = %v", roster)
	}
}

func TestResetToday(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		id := ledger.Identity{Name: name}
		if err := l.CreateIdentity(ctx, &id); err != nil {
			t.Fatal(err)
		}
	}

	n, err := l.ResetToday(ctx)
	if err != nil {
		t.Fatalf("ResetToday() error = %v", err)
	}
	if n != 3 {
		t.Errorf("ResetToday() = %d, want 3", n)
	}

	rows, err := l.Today(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.Status != ledger.StatusAbsent {
			t.Errorf("%s is %s after reset", r.Name, r.Status)
		}
	}
}

func TestDayHelpers(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	at := time.Date(2026, 3, 9, 23, 30, 0, 0, loc)
	if got := ledger.DayKey(at); got != "2026-03-09" {
		t.Errorf("DayKey() = %q, want local calendar day", got)
	}
	d := ledger.Day(at)
	if d.Hour() != 0 || d.Minute() != 0 || d.Day() != 9 {
		t.Errorf("Day() = %v, want midnight of the 9th", d)
	}
}

func TestScheduleReset(t *testing.T) {
	l := newLedger(t)

	if _, err := ledger.ScheduleReset(l, "not a schedule"); err == nil {
		t.Error("ScheduleReset() accepted an invalid spec")
	}

	ctx := context.Background()
	ana := ledger.Identity{Name: "Ana"}
	if err := l.CreateIdentity(ctx, &ana); err != nil {
		t.Fatal(err)
	}

	s, err := ledger.ScheduleReset(l, "@every 1s")
	if err != nil {
		t.Fatalf("ScheduleReset() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := l.Today(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) == 1 && rows[0].Status == ledger.StatusAbsent {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled reset did not run within 3s")
}
