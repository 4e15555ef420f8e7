package ledger_test

import (
	"context"
	"testing"

	"kmfx/internal/ledger"
	"kmfx/internal/ledger/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalDecisionsNotifyClient(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	acc := ledgertest.FundedAccount(t, svc)

	approve, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 50 * usd})
	require.NoError(t, err)
	reject, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 20 * usd})
	require.NoError(t, err)

	_, err = svc.ApproveWithdrawal(ctx, approve.ID, "owner")
	require.NoError(t, err)
	inbox, err := store.Notifications(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Withdrawal Approved", inbox[0].Title)

	_, err = svc.RejectWithdrawal(ctx, reject.ID, "admin", "details missing")
	require.NoError(t, err)
	inbox, err = store.Notifications(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Withdrawal Rejected", inbox[0].Title)
	assert.Equal(t, "Withdrawal", inbox[0].Category)
}
