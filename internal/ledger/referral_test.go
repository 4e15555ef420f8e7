package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(id int64) *int64 { return &id }

func lookupFrom(accounts ...Account) LookupFunc {
	byID := make(map[int64]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return func(_ context.Context, id int64) (Account, error) {
		a, ok := byID[id]
		if !ok {
			return Account{}, ErrUnknownAccount
		}
		return a, nil
	}
}

func TestResolve(t *testing.T) {
	amount := 1000 * MicrosPerUSD
	tests := []struct {
		name     string
		accounts []Account
		amount   int64
		want     []Payout
	}{
		{
			name: "direct pioneer sponsor",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer},
			},
			amount: amount,
			want:   []Payout{{AccountID: 2, Tier: 1, FractionBps: 600}},
		},
		{
			name: "full chain capped at three tiers",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer, ReferredBy: ref(3)},
				{ID: 3, Kind: KindPioneer, ReferredBy: ref(4)},
				{ID: 4, Kind: KindPioneer, ReferredBy: ref(5)},
				{ID: 5, Kind: KindPioneer},
			},
			amount: amount,
			want: []Payout{
				{AccountID: 2, Tier: 1, FractionBps: 600},
				{AccountID: 3, Tier: 2, FractionBps: 300},
				{AccountID: 4, Tier: 3, FractionBps: 100},
			},
		},
		{
			name: "pioneer trigger earns nothing upline",
			accounts: []Account{
				{ID: 1, Kind: KindPioneer, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer},
			},
			amount: amount,
		},
		{
			name: "chain stops at regular sponsor",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer, ReferredBy: ref(3)},
				{ID: 3, Kind: KindRegular, ReferredBy: ref(4)},
				{ID: 4, Kind: KindPioneer},
			},
			amount: amount,
			want:   []Payout{{AccountID: 2, Tier: 1, FractionBps: 600}},
		},
		{
			name: "missing sponsor",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(99)},
			},
			amount: amount,
		},
		{
			name: "no sponsor",
			accounts: []Account{
				{ID: 1, Kind: KindRegular},
			},
			amount: amount,
		},
		{
			name: "loss pays nothing",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer},
			},
			amount: -amount,
		},
		{
			name: "cycle back to trigger",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer, ReferredBy: ref(1)},
			},
			amount: amount,
			want:   []Payout{{AccountID: 2, Tier: 1, FractionBps: 600}},
		},
		{
			name: "cycle between sponsors",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(2)},
				{ID: 2, Kind: KindPioneer, ReferredBy: ref(3)},
				{ID: 3, Kind: KindPioneer, ReferredBy: ref(2)},
			},
			amount: amount,
			want: []Payout{
				{AccountID: 2, Tier: 1, FractionBps: 600},
				{AccountID: 3, Tier: 2, FractionBps: 300},
			},
		},
		{
			name: "self sponsored",
			accounts: []Account{
				{ID: 1, Kind: KindRegular, ReferredBy: ref(1)},
			},
			amount: amount,
		},
	}

	r := NewResolver()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), 1, tc.amount, lookupFrom(tc.accounts...))
			require.NoError(t, err)
			assert.Equal(t, len(tc.want), len(got))
			for i := range tc.want {
				assert.Equal(t, tc.want[i], got[i])
			}
		})
	}
}

func TestResolveUnknownTrigger(t *testing.T) {
	_, err := NewResolver().Resolve(context.Background(), 7, MicrosPerUSD, lookupFrom())
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestResolverPoolBounded(t *testing.T) {
	r := NewResolver()
	assert.Equal(t, int64(1000), r.MaxPoolBps())
	assert.Less(t, r.MaxPoolBps(), BpsScale)
}
