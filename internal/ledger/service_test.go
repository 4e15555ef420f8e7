package ledger_test

import (
	"context"
	"testing"
	"time"

	"kmfx/internal/ledger"
	"kmfx/internal/ledger/ledgertest"
	"kmfx/internal/store/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usd = ledger.MicrosPerUSD

var postedOn = ledgertest.PostedOn

func openSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestService(t *testing.T) (*ledger.Service, *sqlite.Store) {
	t.Helper()
	store := openSQLite(t)
	return ledger.NewService(store, store, store, zerolog.Nop()), store
}

func TestLedgerOnSQLite(t *testing.T) {
	ledgertest.Run(t, ledgertest.Options{
		Open: func(t *testing.T) ledger.Store { return openSQLite(t) },
	})
}

func TestPostProfitNotifiesAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	stamp := time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return stamp })

	sponsor := ledgertest.MustCreate(t, svc, "Pat Pioneer", ledger.KindPioneer, 0, nil)
	client := ledgertest.MustCreate(t, svc, "Rita Regular", ledger.KindRegular, 5000*usd, &sponsor.ID)

	_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: 1000 * usd, Date: postedOn})
	require.NoError(t, err)

	clientInbox, err := store.Notifications(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, clientInbox, 1)
	assert.Equal(t, "Profit Recorded", clientInbox[0].Title)
	assert.Equal(t, "Profit", clientInbox[0].Category)
	assert.True(t, stamp.Equal(clientInbox[0].CreatedAt))

	sponsorInbox, err := store.Notifications(ctx, sponsor.ID)
	require.NoError(t, err)
	require.Len(t, sponsorInbox, 1)
	assert.Equal(t, "Referral Bonus", sponsorInbox[0].Title)

	entries, err := store.AuditEntries(ctx, 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
		assert.True(t, stamp.Equal(e.OccurredAt))
	}
	assert.Contains(t, actions, "Profit Recorded")
	assert.Contains(t, actions, "Referral Bonus")
}

func TestLossNotifiesWithoutShare(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	acc := ledgertest.MustCreate(t, svc, "Paula", ledger.KindPioneer, 5000*usd, nil)

	_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: acc.ID, AmountMicros: -500 * usd, Date: postedOn})
	require.NoError(t, err)

	inbox, err := store.Notifications(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "Loss Recorded", inbox[0].Title)
	assert.Contains(t, inbox[0].Message, "$500.00")
}
