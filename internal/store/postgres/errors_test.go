package postgres

import (
	"errors"
	"testing"

	"kmfx/internal/ledger"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	for _, code := range []string{"40001", "40P01"} {
		err := mapErr(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ledger.ErrConflict, code)
	}

	unique := &pgconn.PgError{Code: "23505"}
	err := mapErr(unique)
	assert.False(t, errors.Is(err, ledger.ErrConflict))
	assert.Same(t, unique, err)

	assert.Equal(t, ledger.ErrUnknownAccount, mapErr(ledger.ErrUnknownAccount))
}
