package notify_test

import (
	"context"
	"testing"

	"kmfx/internal/db/dbtest"
	"kmfx/internal/ledger"
	"kmfx/internal/notify"
	"kmfx/internal/store/postgres"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubOutboxOnPostgres(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Open(t)
	dbtest.Reset(t, pool)
	hub := notify.NewHub(pool, zerolog.Nop())
	led := ledger.NewService(postgres.New(pool), hub, nil, zerolog.Nop())

	acc, err := led.CreateAccount(ctx, ledger.NewAccount{Name: "Ada", Kind: ledger.KindPioneer, Phone: "+44 7700 900123"})
	require.NoError(t, err)
	require.NoError(t, hub.Notify(ctx, acc.ID, "Referral Bonus", "You earned $6.00"))

	pending, err := hub.Pending(ctx, 10, notify.DefaultMaxTries)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Ada", pending[0].AccountName)
	assert.Equal(t, "Referral", pending[0].Category)
	assert.Empty(t, pending[0].DeliveredTo)

	id := pending[0].ID
	require.NoError(t, hub.MarkFailed(ctx, id, []string{"discord"}, "whatsapp: not connected"))
	require.NoError(t, hub.MarkFailed(ctx, id, nil, "whatsapp: not connected"))

	pending, err = hub.Pending(ctx, 10, notify.DefaultMaxTries)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Tries)
	assert.Equal(t, []string{"discord"}, pending[0].DeliveredTo)
	assert.True(t, pending[0].DeliveredVia("discord"))
	assert.False(t, pending[0].DeliveredVia("whatsapp"))

	require.NoError(t, hub.MarkSent(ctx, id))
	pending, err = hub.Pending(ctx, 10, notify.DefaultMaxTries)
	require.NoError(t, err)
	assert.Empty(t, pending)

	unread, err := hub.UnreadCount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}
