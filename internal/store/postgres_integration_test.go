//go:build postgres_integration

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/webhooks"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	migrateUp(t, dsn)

	pool, err := Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runStoreSuite(t, func(t *testing.T) webhooks.Store {
		_, err := pool.Exec(context.Background(),
			`TRUNCATE delivery_jobs, webhook_events, webhook_endpoints`)
		require.NoError(t, err)
		return NewPostgres(pool)
	})
}

func migrateUp(t *testing.T, dsn string) {
	t.Helper()

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	require.NoError(t, err)
	src, err := iofs.New(Migrations, "migrations")
	require.NoError(t, err)

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
}
