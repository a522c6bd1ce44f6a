// Package mariadb is the MariaDB/MySQL attendance ledger backend.
package mariadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool. The DSN is forced to parse
// DATE and DATETIME columns into time.Time in UTC.
func NewPool(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
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

// Migrate applies pending schema migrations. MariaDB commits DDL
// implicitly, so each file is applied and then recorded.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	log := logging.Component("mariadb")
	for _, file := range files {
		content, err := migrationsFS.ReadFile("migrations/" + file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := p.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := p.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		log.Infof("Applied migration: %s", file)
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

// Store implements ledger.Store on MariaDB.
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

const (
	errDeadlock     = 1213
	errNoReferenced = 1452
)

func mysqlCode(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
