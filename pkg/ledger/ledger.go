// Package ledger is the attendance ledger: the roster of identities and one
// attendance record per identity and calendar day. Backends implement Store;
// Ledger wraps a Store with validation, serialization and logging.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the attendance state of a record.
type Status string

const (
	StatusAbsent  Status = "absent"
	StatusPresent Status = "present"
)

// Outcome is the result of MarkPresent.
type Outcome int

const (
	// Created means no record existed for the day and one was inserted.
	Created Outcome = iota + 1
	// Updated means an absent record was flipped to present.
	Updated
	// AlreadyPresent means the record was present and left untouched.
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownIdentity is returned for ids with no roster entry.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrInvalidIdentity is returned when identity fields fail validation.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Identity is an enrolled person.
type Identity struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name" validate:"required,max=120"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Course    string     `json:"course,omitempty" validate:"max=60"`
	CreatedAt time.Time  `json:"created_at"`
}

// Record is one attendance row.
type Record struct {
	ID         uuid.UUID  `json:"id"`
	IdentityID int64      `json:"identity_id"`
	Date       time.Time  `json:"date"`
	Status     Status     `json:"status"`
	MarkedAt   *time.Time `json:"marked_at,omitempty"`
}

// Row is a record joined with its identity, as shown to people.
type Row struct {
	IdentityID int64      `json:"identity_id"`
	Name       string     `json:"name"`
	Course     string     `json:"course,omitempty"`
	Status     Status     `json:"status"`
	MarkedAt   *time.Time `json:"marked_at,omitempty"`
}

// Store is implemented by ledger backends. MarkPresent and ResetDay must be
// atomic with respect to the (identity, day) uniqueness.
type Store interface {
	CreateIdentity(ctx context.Context, id *Identity) error
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	DeleteIdentity(ctx context.Context, id int64) error

	MarkPresent(ctx context.Context, identityID int64, at time.Time) (Outcome, error)
	ResetDay(ctx context.Context, day time.Time) (int, error)
	Record(ctx context.Context, identityID int64, day time.Time) (*Record, error)
	Day(ctx context.Context, day time.Time) ([]Row, error)

	Close() error
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayKey formats the calendar day of t the way SQL backends store it.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NewRecordID returns a fresh record id.
func NewRecordID() uuid.UUID {
	return uuid.New()
}
