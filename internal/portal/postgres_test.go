package portal_test

import (
	"context"
	"testing"
	"time"

	"kmfx/internal/db/dbtest"
	"kmfx/internal/ledger"
	"kmfx/internal/notify"
	"kmfx/internal/portal"
	"kmfx/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgFixture struct {
	pool   *pgxpool.Pool
	ledger *ledger.Service
	hub    *notify.Hub
	portal *portal.Service
}

func newPGFixture(t *testing.T) pgFixture {
	t.Helper()
	pool := dbtest.Open(t)
	dbtest.Reset(t, pool)
	hub := notify.NewHub(pool, zerolog.Nop())
	led := ledger.NewService(postgres.New(pool), hub, nil, zerolog.Nop())
	svc := portal.NewService(pool, portal.Deps{Ledger: led, Notifier: hub}, zerolog.Nop())
	return pgFixture{pool: pool, ledger: led, hub: hub, portal: svc}
}

func (f pgFixture) account(t *testing.T, name string) ledger.Account {
	t.Helper()
	acc, err := f.ledger.CreateAccount(context.Background(), ledger.NewAccount{
		Name: name, Kind: ledger.KindPioneer, TradingAccounts: "1001,1002", Phone: "+44 7700 900123",
	})
	require.NoError(t, err)
	return acc
}

func TestIssueLicenseOnPostgres(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	acc := f.account(t, "Ada Lovelace")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	expiry := today.AddDate(0, 0, 3)
	lic, err := f.portal.IssueLicense(ctx, acc.ID, expiry, true)
	require.NoError(t, err)
	assert.NotZero(t, lic.ID)
	assert.Equal(t, portal.LicenseKey("Ada Lovelace", lic.GeneratedAt), lic.Key)

	payload, err := portal.DecodeLicense(lic.EncData, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, portal.LicensePayload("Ada Lovelace", "1001,1002", expiry, true), payload)

	stored, err := f.portal.License(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, lic.Key, stored.Key)
	assert.True(t, expiry.Equal(stored.Expiry.UTC()))

	listed, err := f.portal.Licenses(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	updated, err := f.ledger.Account(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Expiry)
	assert.True(t, expiry.Equal(updated.Expiry.UTC()))

	inbox, err := f.hub.List(ctx, acc.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "New License Generated", inbox[0].Title)
	assert.Equal(t, "License", inbox[0].Category)

	expiring, err := f.portal.ExpiringLicenses(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "Ada Lovelace", expiring[0].AccountName)

	n, err := f.portal.RemindExpiring(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	expiring, err = f.portal.ExpiringLicenses(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expiring)

	_, err = f.portal.IssueLicense(ctx, acc.ID, today.AddDate(0, 0, -1), false)
	assert.ErrorIs(t, err, portal.ErrInvalidInput)
	_, err = f.portal.IssueLicense(ctx, 4242, expiry, false)
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
	_, err = f.portal.License(ctx, 4242)
	assert.ErrorIs(t, err, portal.ErrNotFound)
}

func TestMessagesOnPostgres(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)
	acc := f.account(t, "Grace")

	_, err := f.portal.SendMessage(ctx, acc.ID, portal.SenderClient, "Grace", "  When is the next payout? ")
	require.NoError(t, err)
	reply, err := f.portal.SendMessage(ctx, acc.ID, portal.SenderStaff, "owner", "Friday.")
	require.NoError(t, err)
	assert.Equal(t, portal.SenderStaff, reply.Sender)

	threads, err := f.portal.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "Grace", threads[0].AccountName)
	assert.Equal(t, int64(1), threads[0].Unread)

	thread, err := f.portal.Thread(ctx, acc.ID, portal.SenderStaff)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "When is the next payout?", thread[0].Body)
	assert.True(t, thread[0].Read, "staff viewing marks client messages read")
	assert.False(t, thread[1].Read)

	threads, err = f.portal.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), threads[0].Unread)

	inbox, err := f.hub.List(ctx, acc.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "New Message", inbox[0].Title)

	_, err = f.portal.SendMessage(ctx, acc.ID, "robot", "x", "hi")
	assert.ErrorIs(t, err, portal.ErrInvalidInput)
	_, err = f.portal.SendMessage(ctx, acc.ID, portal.SenderClient, "Grace", "   ")
	assert.ErrorIs(t, err, portal.ErrInvalidInput)
	_, err = f.portal.SendMessage(ctx, 4242, portal.SenderClient, "Nobody", "hi")
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)

	first, err := f.portal.PostAnnouncement(ctx, "Maintenance", "Servers down Sunday.", "owner")
	require.NoError(t, err)
	second, err := f.portal.PostAnnouncement(ctx, "New EA", "Version 2 is out.", "owner")
	require.NoError(t, err)
	list, err := f.portal.Announcements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
