package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

// CreateIdentity inserts id, letting the sequence pick the id when zero.
func (s *Store) CreateIdentity(ctx context.Context, id *ledger.Identity) error {
	var birth sql.NullTime
	if id.BirthDate != nil {
		birth = sql.NullTime{Time: *id.BirthDate, Valid: true}
	}

	if id.ID == 0 {
		err := s.pool.db.QueryRowContext(ctx, `
			INSERT INTO identities (name, birth_date, course)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, id.Name, birth, id.Course).Scan(&id.ID, &id.CreatedAt)
		if err != nil {
			return fmt.Errorf("create identity: %w", err)
		}
		return nil
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO identities (id, name, birth_date, course)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, id.ID, id.Name, birth, id.Course).Scan(&id.CreatedAt)
	if err != nil {
		return fmt.Errorf("create identity %d: %w", id.ID, err)
	}
	// keep the sequence ahead of explicitly chosen ids
	if _, err := tx.ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('identities', 'id'), (SELECT MAX(id) FROM identities))
	`); err != nil {
		return fmt.Errorf("advance identity sequence: %w", err)
	}
	return tx.Commit()
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
	ident, err := scanIdentity(s.pool.db.QueryRowContext(ctx, `
		SELECT id, name, birth_date, course, created_at
		FROM identities WHERE id = $1
	`, id))
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
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT id, name, birth_date, course, created_at
		FROM identities ORDER BY id
	`)
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

// DeleteIdentity implements ledger.Store. Records go with it via ON DELETE CASCADE.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) error {
	res, err := s.pool.db.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete identity %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, id)
	}
	return nil
}

// MarkPresent is a single upsert. The conflict branch only fires for absent
// rows, so no row comes back when the identity is already present; xmax is
// zero only for freshly inserted tuples.
func (s *Store) MarkPresent(ctx context.Context, identityID int64, at time.Time) (ledger.Outcome, error) {
	var inserted bool
	err := s.pool.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, identity_id, day, status, marked_at)
		VALUES ($1, $2, $3, 'present', $4)
		ON CONFLICT (identity_id, day) DO UPDATE
			SET status = 'present', marked_at = EXCLUDED.marked_at
			WHERE attendance.status <> 'present'
		RETURNING (xmax = 0)
	`, ledger.NewRecordID(), identityID, ledger.DayKey(at), at).Scan(&inserted)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ledger.AlreadyPresent, nil
	case err != nil:
		return 0, mapError(err, identityID)
	case inserted:
		return ledger.Created, nil
	default:
		return ledger.Updated, nil
	}
}

// ResetDay implements ledger.Store.
func (s *Store) ResetDay(ctx context.Context, day time.Time) (int, error) {
	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (id, identity_id, day, status, marked_at)
		SELECT gen_random_uuid(), id, $1::date, 'absent', NULL FROM identities
		ON CONFLICT (identity_id, day) DO UPDATE
			SET status = 'absent', marked_at = NULL
	`, ledger.DayKey(day))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Record implements ledger.Store.
func (s *Store) Record(ctx context.Context, identityID int64, day time.Time) (*ledger.Record, error) {
	var (
		rec    ledger.Record
		status string
		marked sql.NullTime
	)
	err := s.pool.db.QueryRowContext(ctx, `
		SELECT id, identity_id, day, status, marked_at
		FROM attendance WHERE identity_id = $1 AND day = $2
	`, identityID, ledger.DayKey(day)).Scan(&rec.ID, &rec.IdentityID, &rec.Date, &status, &marked)
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
		WHERE a.day = $1
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
