package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/rollcall/pkg/logging"
)

var validate = validator.New()

// Ledger serializes writes to a Store and logs every attendance change.
type Ledger struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
	log   *logrus.Entry
}

// New wraps store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		log:   logging.Component("ledger"),
	}
}

// Store returns the wrapped backend.
func (l *Ledger) Store() Store {
	return l.store
}

// Close closes the backend.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// CreateIdentity validates and stores a new identity.
func (l *Ledger) CreateIdentity(ctx context.Context, id *Identity) error {
	id.Name = strings.TrimSpace(id.Name)
	id.Course = strings.TrimSpace(id.Course)
	if err := validate.Struct(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if id.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidIdentity, id.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.CreateIdentity(ctx, id); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{"identity": id.ID, "name": id.Name}).Info("Identity created")
	return nil
}

// GetIdentity returns one identity or ErrUnknownIdentity.
func (l *Ledger) GetIdentity(ctx context.Context, id int64) (*Identity, error) {
	return l.store.GetIdentity(ctx, id)
}

// ListIdentities returns the whole roster ordered by id.
func (l *Ledger) ListIdentities(ctx context.Context) ([]Identity, error) {
	return l.store.ListIdentities(ctx)
}

// DeleteIdentity removes an identity and its attendance records.
func (l *Ledger) DeleteIdentity(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.DeleteIdentity(ctx, id); err != nil {
		return err
	}
	l.log.WithField("identity", id).Info("Identity deleted")
	return nil
}

// Roster maps identity ids to names.
func (l *Ledger) Roster(ctx context.Context) (map[int64]string, error) {
	ids, err := l.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	roster := make(map[int64]string, len(ids))
	for _, id := range ids {
		roster[id.ID] = id.Name
	}
	return roster, nil
}

// MarkPresent records that identityID was seen at at. Repeated calls on the
// same day leave a single present record with the first sighting time.
func (l *Ledger) MarkPresent(ctx context.Context, identityID int64, at time.Time) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	outcome, err := l.store.MarkPresent(ctx, identityID, at)
	if err != nil {
		if !errors.Is(err, ErrUnknownIdentity) {
			err = fmt.Errorf("mark identity %d present: %w", identityID, err)
		}
		return 0, err
	}

	entry := l.log.WithFields(logrus.Fields{
		"identity": identityID,
		"day":      DayKey(at),
		"outcome":  outcome.String(),
	})
	if outcome == AlreadyPresent {
		entry.Debug("Attendance unchanged")
	} else {
		entry.Info("Attendance marked")
	}
	return outcome, nil
}

// ResetDay marks every identity absent for day and returns how many
// records were written.
func (l *Ledger) ResetDay(ctx context.Context, day time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.store.ResetDay(ctx, Day(day))
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", DayKey(day), err)
	}
	l.log.WithFields(logrus.Fields{"day": DayKey(day), "records": n}).Info("Attendance reset")
	return n, nil
}

// ResetToday is ResetDay for the current day.
func (l *Ledger) ResetToday(ctx context.Context) (int, error) {
	return l.ResetDay(ctx, l.now())
}

// Record returns the record of identityID for day, or nil.
func (l *Ledger) Record(ctx context.Context, identityID int64, day time.Time) (*Record, error) {
	return l.store.Record(ctx, identityID, Day(day))
}

// Day lists the records of day joined with names, ordered by name.
func (l *Ledger) Day(ctx context.Context, day time.Time) ([]Row, error) {
	return l.store.Day(ctx, Day(day))
}

// Today lists the current day's records.
func (l *Ledger) Today(ctx context.Context) ([]Row, error) {
	return l.Day(ctx, l.now())
}
