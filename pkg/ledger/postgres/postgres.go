// Package postgres is the PostgreSQL attendance ledger backend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
)

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Open connects, applies pending migrations and returns a ready Store.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return NewStore(pool), nil
}

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	pool *Pool
}

var _ ledger.Store = (*Store)(nil)

// NewStore returns a store on an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

const foreignKeyViolation = "23503"

// mapError turns driver errors the ledger cares about into its sentinels.
func mapError(err error, identityID int64) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %d", ledger.ErrUnknownIdentity, identityID)
	}
	return err
}
