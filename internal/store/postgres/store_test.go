package postgres_test

import (
	"testing"

	"kmfx/internal/db/dbtest"
	"kmfx/internal/ledger"
	"kmfx/internal/ledger/ledgertest"
	"kmfx/internal/store/postgres"
)

func TestLedgerOnPostgres(t *testing.T) {
	pool := dbtest.Open(t)
	ledgertest.Run(t, ledgertest.Options{
		Open: func(t *testing.T) ledger.Store {
			dbtest.Reset(t, pool)
			return postgres.New(pool)
		},
		Concurrency: 3,
	})
}
