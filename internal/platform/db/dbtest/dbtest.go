// Package dbtest provides migrated PostgreSQL databases for repository tests.
//
// TEST_PG_DSN points the tests at an existing server (URL form). Without it a postgres
// container is started once per test binary. Each call to Pool gets its own database,
// so packages can run their tests concurrently against the same server.
package dbtest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dairybooth/dairyledger/internal/platform/db"
)

var (
	serverMu  sync.Mutex
	serverDSN string
)

// Pool returns a pool on a fresh, fully migrated database. The database is dropped when
// the test finishes. Skipped under -short and when no server can be reached.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres repository tests skipped in -short mode")
	}
	ctx := context.Background()
	base := server(t)

	name := "dairyledger_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	admin, err := pgx.Connect(ctx, base)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)
	require.NoError(t, admin.Close(ctx))

	dsn, err := withDatabase(base, name)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	require.NoError(t, db.Migrate(dsn, logger))

	pool, err := db.New(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		admin, err := pgx.Connect(ctx, base)
		if err != nil {
			t.Logf("drop test database %s: %v", name, err)
			return
		}
		defer func() { _ = admin.Close(ctx) }()
		if _, err := admin.Exec(ctx, "DROP DATABASE IF EXISTS "+name); err != nil {
			t.Logf("drop test database %s: %v", name, err)
		}
	})
	return pool
}

func server(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_PG_DSN"); dsn != "" {
		return dsn
	}

	serverMu.Lock()
	defer serverMu.Unlock()
	if serverDSN != "" {
		return serverDSN
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("dairyledger"),
		tcpostgres.WithUsername("dairy"),
		tcpostgres.WithPassword("dairy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	// The container is reaped with the test process.
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	serverDSN = dsn
	return serverDSN
}

func withDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("dbtest: TEST_PG_DSN must be a postgres:// URL: %q", dsn)
	}
	u.Path = "/" + name
	return u.String(), nil
}
