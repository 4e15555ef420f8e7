// Package dbtest connects tests to a disposable Postgres database named by
// KMFX_TEST_DATABASE_URL. Tests are skipped when it is unset.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"kmfx/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const EnvURL = "KMFX_TEST_DATABASE_URL"

// Open migrates the database once per call and returns a pool closed at
// test cleanup. Call Reset before each scenario that needs empty tables.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skip(EnvURL + " not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, db.PoolConfig{URL: url, ApplicationName: "kmfx-test", MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(ctx, pool, zerolog.Nop()))
	return pool
}

// Reset empties every kmfx table except the migration history and restarts
// the id sequences.
func Reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	rows, err := pool.Query(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'kmfx' AND tablename <> 'schema_migrations'
		ORDER BY tablename
	`)
	require.NoError(t, err)
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name string
		err := row.Scan(&name)
		return "kmfx." + name, err
	})
	require.NoError(t, err)
	require.NotEmpty(t, tables)
	_, err = pool.Exec(ctx, `TRUNCATE `+strings.Join(tables, ", ")+` RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}
