// Package ledgertest is a behavioural test suite every ledger.Store backend
// must pass. Backends call Run from their own tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

// Opener returns an empty store. It is called once per subtest.
type Opener func(t *testing.T) ledger.Store

var (
	day1 = time.Date(2026, 3, 9, 8, 15, 0, 0, time.UTC)
	day2 = time.Date(2026, 3, 10, 8, 15, 0, 0, time.UTC)
)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"Identities", testIdentities},
		{"UnknownIdentity", testUnknownIdentity},
		{"MarkPresentOutcomes", testMarkPresentOutcomes},
		{"RepeatedMarksKeepOneRecord", testRepeatedMarks},
		{"ResetThenMark", testResetThenMark},
		{"ResetClearsPresent", testResetClearsPresent},
		{"DaysAreSeparate", testDaysAreSeparate},
		{"DayOrderedByName", testDayOrderedByName},
		{"DeleteCascades", testDeleteCascades},
		{"ConcurrentMarks", testConcurrentMarks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func mustCreate(t *testing.T, s ledger.Store, name string) ledger.Identity {
	t.Helper()
	id := ledger.Identity{Name: name, Course: "5B"}
	if err := s.CreateIdentity(context.Background(), &id); err != nil {
		t.Fatalf("CreateIdentity(%s) error = %v", name, err)
	}
	if id.ID == 0 {
		t.Fatalf("CreateIdentity(%s) did not assign an id", name)
	}
	return id
}

func mustMark(t *testing.T, s ledger.Store, id int64, at time.Time) ledger.Outcome {
	t.Helper()
	o, err := s.MarkPresent(context.Background(), id, at)
	if err != nil {
		t.Fatalf("MarkPresent(%d) error = %v", id, err)
	}
	return o
}

func testIdentities(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	ana := mustCreate(t, s, "Ana")
	bruno := mustCreate(t, s, "Bruno")

	explicit := ledger.Identity{ID: 70, Name: "Carla"}
	if err := s.CreateIdentity(ctx, &explicit); err != nil {
		t.Fatalf("CreateIdentity with explicit id error = %v", err)
	}

	got, err := s.GetIdentity(ctx, bruno.ID)
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.Name != "Bruno" || got.Course != "5B" {
		t.Errorf("GetIdentity() = %+v", got)
	}

	list, err := s.ListIdentities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("ListIdentities() returned %d, want 3", len(list))
	}
	if list[0].ID != ana.ID || list[2].ID != 70 {
		t.Errorf("ListIdentities() not ordered by id: %+v", list)
	}
}

func testUnknownIdentity(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	if _, err := s.GetIdentity(ctx, 404); !errors.Is(err, ledger.ErrUnknownIdentity) {
		t.Errorf("GetIdentity() error = %v, want ErrUnknownIdentity", err)
	}
	if _, err := s.MarkPresent(ctx, 404, day1); !errors.Is(err, ledger.ErrUnknownIdentity) {
		t.Errorf("MarkPresent() error = %v, want ErrUnknownIdentity", err)
	}
	if err := s.DeleteIdentity(ctx, 404); !errors.Is(err, ledger.ErrUnknownIdentity) {
		t.Errorf("DeleteIdentity() error = %v, want ErrUnknownIdentity", err)
	}
}

func testMarkPresentOutcomes(t *testing.T, s ledger.Store) {
	id := mustCreate(t, s, "Ana").ID

	if o := mustMark(t, s, id, day1); o != ledger.Created {
		t.Errorf("first mark = %v, want created", o)
	}
	if o := mustMark(t, s, id, day1.Add(time.Hour)); o != ledger.AlreadyPresent {
		t.Errorf("second mark = %v, want already_present", o)
	}

	rec, err := s.Record(context.Background(), id, day1)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != ledger.StatusPresent {
		t.Fatalf("Record() = %+v, want present", rec)
	}
	if rec.MarkedAt == nil || !rec.MarkedAt.Equal(day1) {
		t.Errorf("MarkedAt = %v, want first sighting %v", rec.MarkedAt, day1)
	}
}

func testRepeatedMarks(t *testing.T, s ledger.Store) {
	id := mustCreate(t, s, "Ana").ID
	for i := 0; i < 10; i++ {
		mustMark(t, s, id, day1.Add(time.Duration(i)*time.Minute))
	}

	rows, err := s.Day(context.Background(), day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != ledger.StatusPresent {
		t.Errorf("Day() = %+v, want one present row", rows)
	}
}

func testResetThenMark(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	ana := mustCreate(t, s, "Ana").ID
	mustCreate(t, s, "Bruno")

	n, err := s.ResetDay(ctx, ledger.Day(day1))
	if err != nil {
		t.Fatalf("ResetDay() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ResetDay() wrote %d records, want 2", n)
	}

	if o := mustMark(t, s, ana, day1); o != ledger.Updated {
		t.Errorf("mark after reset = %v, want updated", o)
	}

	rows, err := s.Day(ctx, day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("Day() returned %d rows, want 2", len(rows))
	}
	if rows[0].Name != "Ana" || rows[0].Status != ledger.StatusPresent || rows[0].MarkedAt == nil {
		t.Errorf("Ana row = %+v", rows[0])
	}
	if rows[1].Name != "Bruno" || rows[1].Status != ledger.StatusAbsent || rows[1].MarkedAt != nil {
		t.Errorf("Bruno row = %+v", rows[1])
	}
}

func testResetClearsPresent(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, "Ana").ID
	mustMark(t, s, id, day1)

	if _, err := s.ResetDay(ctx, ledger.Day(day1)); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Record(ctx, id, day1)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != ledger.StatusAbsent || rec.MarkedAt != nil {
		t.Errorf("Record() after reset = %+v, want absent without time", rec)
	}
}

func testDaysAreSeparate(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, "Ana").ID

	if o := mustMark(t, s, id, day1); o != ledger.Created {
		t.Errorf("day1 = %v", o)
	}
	if o := mustMark(t, s, id, day2); o != ledger.Created {
		t.Errorf("day2 = %v, want a fresh record", o)
	}

	rec, err := s.Record(ctx, id, day2.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("Record() for an untouched day = %+v, want nil", rec)
	}
}

func testDayOrderedByName(t *testing.T, s ledger.Store) {
	for _, name := range []string{"Zoe", "Ana", "Marta"} {
		id := mustCreate(t, s, name).ID
		mustMark(t, s, id, day1)
	}
	rows, err := s.Day(context.Background(), day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].Name != "Ana" || rows[1].Name != "Marta" || rows[2].Name != "Zoe" {
		t.Errorf("Day() order = %+v", rows)
	}

	empty, err := s.Day(context.Background(), day2)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("Day() for a day without records = %+v", empty)
	}
}

func testDeleteCascades(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	id := mustCreate(t, s, "Ana").ID
	mustMark(t, s, id, day1)

	if err := s.DeleteIdentity(ctx, id); err != nil {
		t.Fatalf("DeleteIdentity() error = %v", err)
	}
	rows, err := s.Day(ctx, day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("records survived identity deletion: %+v", rows)
	}
}

func testConcurrentMarks(t *testing.T, s ledger.Store) {
	id := mustCreate(t, s, "Ana").ID

	var wg sync.WaitGroup
	outcomes := make(chan ledger.Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := s.MarkPresent(context.Background(), id, day1.Add(time.Duration(i)*time.Second))
			if err != nil {
				t.Errorf("concurrent MarkPresent() error = %v", err)
				return
			}
			outcomes <- o
		}(i)
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for o := range outcomes {
		if o == ledger.Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("%d concurrent marks reported created, want exactly 1", created)
	}
}
