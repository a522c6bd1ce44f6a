package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

// CreateIdentity inserts id, letting AUTO_INCREMENT pick the id when zero.
func (s *Store) CreateIdentity(ctx context.Context, id *ledger.Identity) error {
	var birth sql.NullTime
	if id.BirthDate != nil {
		birth = sql.NullTime{Time: *id.BirthDate, Valid: true}
	}

	var (
		res sql.Result
		err error
	)
	if id.ID == 0 {
		res, err = s.pool.db.ExecContext(ctx,
			"INSERT INTO identities (name, birth_date, course) VALUES (?, ?, ?)",
			id.Name, birth, id.Course)
	} else {
		res, err = s.pool.db.ExecContext(ctx,
			"INSERT INTO identities (id, name, birth_date, course) VALUES (?, ?, ?, ?)",
			id.ID, id.Name, birth, id.Course)
	}
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	if id.ID == 0 {
		if id.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("read identity id: %w", err)
		}
	}
	return s.pool.db.QueryRowContext(ctx, "SELECT created_at FROM identities WHERE id = ?", id.ID).Scan(&id.CreatedAt)
}

func scanIdentity(row interface{ Scan(...any) error }) (ledger.Identity, error) {
	var (
		id    ledger.Identity
		birth sql.NullTime
	)
	if err := row.Scan(&id.ID, &id.Name, &birth, &id.Course, &id.CreatedAt); err != nil {
		return id, err
	}
	if birth.Valid {
		b := birth.Time
		id.BirthDate = &b
	}
	return id, nil
}

// GetIdentity implements ledger.Store.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*ledger.Identity, error) {
	ident, err := scanIdentity(s.pool.db.QueryRowContext(ctx,
		"SELECT id, name, birth_date, course, created_at FROM identities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %d: %w", id, err)
	}
	return &ident, nil
}

// ListIdentities implements ledger.Store.
func (s *Store) ListIdentities(ctx context.Context) ([]ledger.Identity, error) {
	rows, err := s.pool.db.QueryContext(ctx,
		"SELECT id, name, birth_date, course, created_at FROM identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	out := []ledger.Identity{}
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// DeleteIdentity implements ledger.Store.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) error {
	res, err := s.pool.db.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete identity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, id)
	}
	return nil
}

// MarkPresent runs two statements that are each atomic on the unique
// (identity_id, day) key: an insert that is a no-op when the row exists,
// then a flip of an absent row. A deadlock victim is retried.
func (s *Store) MarkPresent(ctx context.Context, identityID int64, at time.Time) (ledger.Outcome, error) {
	var (
		outcome ledger.Outcome
		err     error
	)
	for attempt := 0; attempt < 3; attempt++ {
		outcome, err = s.markPresent(ctx, identityID, at)
		if mysqlCode(err) != errDeadlock {
			break
		}
	}
	if mysqlCode(err) == errNoReferenced {
		return 0, fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, identityID)
	}
	return outcome, err
}

func (s *Store) markPresent(ctx context.Context, identityID int64, at time.Time) (ledger.Outcome, error) {
	day := ledger.DayKey(at)
	at = at.UTC()

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (id, identity_id, day, status, marked_at)
		VALUES (?, ?, ?, 'present', ?)
		ON DUPLICATE KEY UPDATE id = id
	`, ledger.NewRecordID().String(), identityID, day, at)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.Created, nil
	}

	res, err = s.pool.db.ExecContext(ctx, `
		UPDATE attendance SET status = 'present', marked_at = ?
		WHERE identity_id = ? AND day = ? AND status <> 'present'
	`, at, identityID, day)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return ledger.Updated, nil
	}
	return ledger.AlreadyPresent, nil
}

// ResetDay implements ledger.Store. ON DUPLICATE KEY counts an updated row
// twice in RowsAffected, so the result is the roster size instead.
func (s *Store) ResetDay(ctx context.Context, day time.Time) (int, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (id, identity_id, day, status, marked_at)
		SELECT UUID(), id, ?, 'absent', NULL FROM identities
		ON DUPLICATE KEY UPDATE status = 'absent', marked_at = NULL
	`, ledger.DayKey(day)); err != nil {
		return 0, err
	}

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Record implements ledger.Store.
func (s *Store) Record(ctx context.Context, identityID int64, day time.Time) (*ledger.Record, error) {
	var (
		rec    ledger.Record
		status string
		marked sql.NullTime
	)
	err := s.pool.db.QueryRowContext(ctx,
		"SELECT id, identity_id, day, status, marked_at FROM attendance WHERE identity_id = ? AND day = ?",
		identityID, ledger.DayKey(day)).Scan(&rec.ID, &rec.IdentityID, &rec.Date, &status, &marked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	rec.Status = ledger.Status(status)
	if marked.Valid {
		t := marked.Time
		rec.MarkedAt = &t
	}
	return &rec, nil
}

// Day implements ledger.Store.
func (s *Store) Day(ctx context.Context, day time.Time) ([]ledger.Row, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.course, a.status, a.marked_at
		FROM attendance a
		JOIN identities i ON i.id = a.identity_id
		WHERE a.day = ?
		ORDER BY i.name, i.id
	`, ledger.DayKey(day))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	out := []ledger.Row{}
	for rows.Next() {
		var (
			r      ledger.Row
			status string
			marked sql.NullTime
		)
		if err := rows.Scan(&r.IdentityID, &r.Name, &r.Course, &status, &marked); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		r.Status = ledger.Status(status)
		if marked.Valid {
			t := marked.Time
			r.MarkedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
