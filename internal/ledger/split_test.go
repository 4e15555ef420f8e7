package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitProfit(t *testing.T) {
	tests := []struct {
		name       string
		kind       AccountKind
		amount     int64
		wantClient int64
		wantOwner  int64
	}{
		{"regular profit", KindRegular, 1000 * MicrosPerUSD, 650 * MicrosPerUSD, 350 * MicrosPerUSD},
		{"pioneer profit", KindPioneer, 1000 * MicrosPerUSD, 750 * MicrosPerUSD, 250 * MicrosPerUSD},
		{"pioneer loss", KindPioneer, -500 * MicrosPerUSD, 0, -500 * MicrosPerUSD},
		{"regular loss", KindRegular, -1, 0, -1},
		{"one micro", KindRegular, 1, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, owner := SplitProfit(tc.kind, tc.amount)
			assert.Equal(t, tc.wantClient, client)
			assert.Equal(t, tc.wantOwner, owner)
		})
	}
}

func TestSplitProfitSumsToAmount(t *testing.T) {
	amounts := []int64{1, 3, 333_333, 999_999_999, 1_234_567_891, MaxPostingMicros}
	for _, kind := range []AccountKind{KindRegular, KindPioneer} {
		for _, amount := range amounts {
			client, owner := SplitProfit(kind, amount)
			require.Equal(t, amount, client+owner, "kind=%s amount=%d", kind, amount)
			require.Equal(t, amount*ShareRateBps(kind)/BpsScale, client)
		}
	}
}

func TestValidatePostingAmount(t *testing.T) {
	assert.ErrorIs(t, validatePostingAmount(0), ErrInvalidAmount)
	assert.ErrorIs(t, validatePostingAmount(MaxPostingMicros+1), ErrInvalidAmount)
	assert.ErrorIs(t, validatePostingAmount(-MaxPostingMicros-1), ErrInvalidAmount)
	assert.NoError(t, validatePostingAmount(-1))
	assert.NoError(t, validatePostingAmount(MaxPostingMicros))
}

func TestReferralCodeBase(t *testing.T) {
	assert.Equal(t, "johnoneil2", referralCodeBase("John O'Neil-2"))
	assert.Equal(t, "client", referralCodeBase("  ---  "))
}
