//go:build integration

package mariadb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrCodeEU/rollcall/pkg/config"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/ledger/ledgertest"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_USER":          "test",
			"MARIADB_PASSWORD":      "test",
			"MARIADB_DATABASE":      "rollcall",
			"MARIADB_ROOT_PASSWORD": "root",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		Driver:       "mariadb",
		URL:          fmt.Sprintf("test:test@tcp(%s:%s)/rollcall", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	// the port opens before the server accepts logins
	var pool *Pool
	deadline := time.Now().Add(60 * time.Second)
	for {
		pool, err = NewPool(cfg)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pool, func() {
		pool.Close()
		container.Terminate(ctx)
	}
}

// sharedStore keeps the pool open across subtests.
type sharedStore struct {
	*Store
}

func (sharedStore) Close() error { return nil }

func TestStore(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		for _, stmt := range []string{"DELETE FROM attendance", "DELETE FROM identities"} {
			if _, err := pool.DB().Exec(stmt); err != nil {
				t.Fatalf("%s: %v", stmt, err)
			}
		}
		return sharedStore{NewStore(pool)}
	})
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	if _, err := NewPool(config.DatabaseConfig{URL: "not a dsn"}); err == nil {
		t.Fatal("NewPool() should reject a malformed DSN")
	}
}
