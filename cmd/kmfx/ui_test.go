package main

import (
	"testing"
	"time"

	"kmfx/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMicros(t *testing.T) {
	assert.Equal(t, "0.00", formatMicros(0))
	assert.Equal(t, "1,250.50", formatMicros(1_250_500_000))
	assert.Equal(t, "-42.00", formatMicros(-42*ledger.MicrosPerUSD))
	assert.Equal(t, "1,000,000.00", formatMicros(1_000_000*ledger.MicrosPerUSD))
	assert.Equal(t, "1,234.56", formatMicros(123_456*ledger.MicrosPerUSD/100))
	assert.Equal(t, "+5.00", signedMicros(5*ledger.MicrosPerUSD))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Bank Transfer", truncate(" Bank Transfer ", 20))
	assert.Equal(t, "Bank Tr...", truncate("Bank Transfer", 10))
	assert.Equal(t, "Ban", truncate("Bank", 3))
}

func TestNewAccountFromBody(t *testing.T) {
	in, err := newAccountFromBody(map[string]any{
		"name": "Rita", "kind": "pioneer", "start_balance": "2,500", "trading_accounts": "8812", "phone": "", "referred_by": int64(4),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPioneer, in.Kind)
	assert.Equal(t, 2500*ledger.MicrosPerUSD, in.StartBalanceMicros)
	require.NotNil(t, in.ReferredBy)
	assert.Equal(t, int64(4), *in.ReferredBy)

	_, err = newAccountFromBody(map[string]any{"name": "X", "kind": "gold", "start_balance": "1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)
}

func TestPendingRows(t *testing.T) {
	rows := pendingRows([]ledger.Withdrawal{{
		ID: 7, AccountID: 3, AmountMicros: 150 * ledger.MicrosPerUSD, Method: "USDT",
		RequestedAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local),
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, "7", rows[0][0])
	assert.Equal(t, "$150.00", rows[0][2])
	assert.Equal(t, "2025-03-14 09:30", rows[0][4])
}
