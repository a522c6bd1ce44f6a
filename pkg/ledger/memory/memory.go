// Package memory is an in-process ledger.Store for tests and runs without
// a database. Contents are lost on exit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

type recordKey struct {
	identity int64
	day      string
}

// Store implements ledger.Store.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	identities map[int64]ledger.Identity
	records    map[recordKey]ledger.Record
	now        func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		identities: make(map[int64]ledger.Identity),
		records:    make(map[recordKey]ledger.Record),
		now:        time.Now,
	}
}

// CreateIdentity assigns the next id when id.ID is zero.
func (s *Store) CreateIdentity(_ context.Context, id *ledger.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.ID == 0 {
		id.ID = s.nextID
	}
	if _, exists := s.identities[id.ID]; exists {
		return fmt.Errorf("identity %d already exists", id.ID)
	}
	if id.ID >= s.nextID {
		s.nextID = id.ID + 1
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = s.now()
	}
	s.identities[id.ID] = *id
	return nil
}

// GetIdentity implements ledger.Store.
func (s *Store) GetIdentity(_ context.Context, id int64) (*ledger.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, id)
	}
	return &ident, nil
}

// ListIdentities implements ledger.Store.
func (s *Store) ListIdentities(_ context.Context) ([]ledger.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteIdentity removes the identity and its records.
func (s *Store) DeleteIdentity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, id)
	}
	delete(s.identities, id)
	for k := range s.records {
		if k.identity == id {
			delete(s.records, k)
		}
	}
	return nil
}

// MarkPresent implements ledger.Store.
func (s *Store) MarkPresent(_ context.Context, identityID int64, at time.Time) (ledger.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identityID]; !ok {
		return 0, fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, identityID)
	}

	key := recordKey{identityID, ledger.DayKey(at)}
	rec, exists := s.records[key]
	switch {
	case !exists:
		marked := at
		s.records[key] = ledger.Record{
			ID:         ledger.NewRecordID(),
			IdentityID: identityID,
			Date:       ledger.Day(at),
			Status:     ledger.StatusPresent,
			MarkedAt:   &marked,
		}
		return ledger.Created, nil
	case rec.Status != ledger.StatusPresent:
		marked := at
		rec.Status = ledger.StatusPresent
		rec.MarkedAt = &marked
		s.records[key] = rec
		return ledger.Updated, nil
	default:
		return ledger.AlreadyPresent, nil
	}
}

// ResetDay implements ledger.Store.
func (s *Store) ResetDay(_ context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.identities {
		key := recordKey{id, ledger.DayKey(day)}
		rec, exists := s.records[key]
		if !exists {
			rec = ledger.Record{ID: ledger.NewRecordID(), IdentityID: id, Date: ledger.Day(day)}
		}
		rec.Status = ledger.StatusAbsent
		rec.MarkedAt = nil
		s.records[key] = rec
		n++
	}
	return n, nil
}

// Record implements ledger.Store.
func (s *Store) Record(_ context.Context, identityID int64, day time.Time) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey{identityID, ledger.DayKey(day)}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Day implements ledger.Store.
func (s *Store) Day(_ context.Context, day time.Time) ([]ledger.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := ledger.DayKey(day)
	rows := []ledger.Row{}
	for k, rec := range s.records {
		if k.day != key {
			continue
		}
		ident := s.identities[k.identity]
		rows = append(rows, ledger.Row{
			IdentityID: k.identity,
			Name:       ident.Name,
			Course:     ident.Course,
			Status:     rec.Status,
			MarkedAt:   rec.MarkedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].IdentityID < rows[j].IdentityID
	})
	return rows, nil
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	return nil
}
