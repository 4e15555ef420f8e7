// Package ledgertest runs the ledger posting and withdrawal scenarios
// against any ledger.Store implementation.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"kmfx/internal/ledger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const USD = ledger.MicrosPerUSD

var (
	PostedOn = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	Clock    = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
)

type Options struct {
	// Open returns an empty store; it is called once per scenario.
	Open func(t *testing.T) ledger.Store
	// Concurrency is the number of parallel postings per account in the
	// contention scenario. Defaults to 20.
	Concurrency int
}

type suite struct {
	concurrency int
}

// Run executes every scenario as a subtest on a fresh store.
func Run(t *testing.T, opts Options) {
	s := suite{concurrency: opts.Concurrency}
	if s.concurrency <= 0 {
		s.concurrency = 20
	}
	scenarios := []struct {
		name string
		fn   func(*testing.T, *ledger.Service)
	}{
		{"RegularWithPioneerSponsor", s.regularWithPioneerSponsor},
		{"PioneerLoss", s.pioneerLoss},
		{"LossFromRegularPaysNoBonus", s.lossFromRegularPaysNoBonus},
		{"RejectsZeroAndUnknown", s.rejectsZeroAndUnknown},
		{"PostingIsNotIdempotent", s.postingIsNotIdempotent},
		{"IdempotencyKey", s.idempotencyKey},
		{"ThreeTierChain", s.threeTierChain},
		{"SponsorCycleTerminates", s.sponsorCycleTerminates},
		{"ReferralTotalNeverExceedsPool", s.referralTotalNeverExceedsPool},
		{"ConcurrentPostingsSerialize", s.concurrentPostingsSerialize},
		{"TimestampsFollowClock", s.timestampsFollowClock},
		{"CreateAccountSponsorRules", s.createAccountSponsorRules},
		{"ListAccounts", s.listAccounts},
		{"Downline", s.downline},
		{"RequestWithdrawal", s.requestWithdrawal},
		{"RequestWithdrawalValidation", s.requestWithdrawalValidation},
		{"ApproveWithdrawalRechecksBalance", s.approveWithdrawalRechecksBalance},
		{"RejectWithdrawal", s.rejectWithdrawal},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			svc := ledger.NewService(opts.Open(t), nil, nil, zerolog.Nop())
			svc.SetClock(func() time.Time { return Clock })
			sc.fn(t, svc)
		})
	}
}

func MustCreate(t *testing.T, svc *ledger.Service, name string, kind ledger.AccountKind, start int64, sponsor *int64) ledger.Account {
	t.Helper()
	acc, err := svc.CreateAccount(context.Background(), ledger.NewAccount{
		Name:               name,
		Kind:               kind,
		StartBalanceMicros: start,
		ReferredBy:         sponsor,
	})
	require.NoError(t, err)
	return acc
}

func MustAccount(t *testing.T, svc *ledger.Service, id int64) ledger.Account {
	t.Helper()
	acc, err := svc.Account(context.Background(), id)
	require.NoError(t, err)
	return acc
}

// FundedAccount returns a Pioneer account whose withdrawable balance is
// $200 after one approved $100 withdrawal.
func FundedAccount(t *testing.T, svc *ledger.Service) ledger.Account {
	t.Helper()
	ctx := context.Background()
	acc := MustCreate(t, svc, "Wanda", ledger.KindPioneer, 1000*USD, nil)
	_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: acc.ID, AmountMicros: 400 * USD, Date: PostedOn})
	require.NoError(t, err)
	w, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 100 * USD, Method: "Bank Transfer"})
	require.NoError(t, err)
	_, err = svc.ApproveWithdrawal(ctx, w.ID, "owner")
	require.NoError(t, err)
	acc = MustAccount(t, svc, acc.ID)
	require.Equal(t, 200*USD, acc.WithdrawableMicros)
	return acc
}

func (suite) regularWithPioneerSponsor(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	sponsor := MustCreate(t, svc, "Pat Pioneer", ledger.KindPioneer, 0, nil)
	client := MustCreate(t, svc, "Rita Regular", ledger.KindRegular, 5000*USD, &sponsor.ID)

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: 1000 * USD, Date: PostedOn})
	require.NoError(t, err)

	assert.Equal(t, 650*USD, res.ClientShareMicros)
	assert.Equal(t, 60*USD, res.ReferralTotalMicros)
	assert.Equal(t, 290*USD, res.OwnerShareMicros)
	require.Len(t, res.Bonuses, 1)
	assert.Equal(t, sponsor.ID, res.Bonuses[0].AccountID)
	assert.Equal(t, 1, res.Bonuses[0].Tier)
	assert.Equal(t, 60*USD, res.Bonuses[0].BonusMicros)
	assert.Equal(t, 60*USD, res.Bonuses[0].Withdrawable)
	assert.Equal(t, 6000*USD, res.EquityMicros)
	assert.Equal(t, 650*USD, res.WithdrawableMicros)

	c := MustAccount(t, svc, client.ID)
	assert.Equal(t, 6000*USD, c.EquityMicros)
	assert.Equal(t, 650*USD, c.WithdrawableMicros)

	s := MustAccount(t, svc, sponsor.ID)
	assert.Equal(t, int64(0), s.EquityMicros, "bonus never moves sponsor equity")
	assert.Equal(t, 60*USD, s.WithdrawableMicros)

	primary, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{AccountID: client.ID})
	require.NoError(t, err)
	require.Len(t, primary, 1)
	assert.Equal(t, res.PrimaryID, primary[0].ID)
	assert.Equal(t, ledger.RecordPrimary, primary[0].Kind)
	assert.Equal(t, 290*USD, primary[0].OwnerShareMicros)
	assert.Equal(t, int64(0), primary[0].ReferralBonusMicros)
	assert.Nil(t, primary[0].SourceID)
	assert.True(t, PostedOn.Equal(primary[0].Date))

	bonus, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{AccountID: sponsor.ID})
	require.NoError(t, err)
	require.Len(t, bonus, 1)
	assert.Equal(t, ledger.RecordBonus, bonus[0].Kind)
	assert.Equal(t, int64(0), bonus[0].AmountMicros)
	assert.Equal(t, 60*USD, bonus[0].ReferralBonusMicros)
	assert.Equal(t, 1, bonus[0].Tier)
	require.NotNil(t, bonus[0].SourceID)
	assert.Equal(t, primary[0].ID, *bonus[0].SourceID)

	assert.Equal(t, primary[0].AmountMicros,
		primary[0].ClientShareMicros+primary[0].OwnerShareMicros+bonus[0].ReferralBonusMicros)

	earned, err := svc.ReferralEarnings(ctx, sponsor.ID)
	require.NoError(t, err)
	assert.Equal(t, 60*USD, earned)
}

func (suite) pioneerLoss(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	p := MustCreate(t, svc, "Paula", ledger.KindPioneer, 5000*USD, nil)
	_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: p.ID, AmountMicros: 1000 * USD, Date: PostedOn})
	require.NoError(t, err)
	before := MustAccount(t, svc, p.ID)
	require.Equal(t, 750*USD, before.WithdrawableMicros)

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: p.ID, AmountMicros: -500 * USD, Date: PostedOn})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ClientShareMicros)
	assert.Equal(t, -500*USD, res.OwnerShareMicros)
	assert.Equal(t, int64(0), res.ReferralTotalMicros)
	assert.Empty(t, res.Bonuses)

	after := MustAccount(t, svc, p.ID)
	assert.Equal(t, before.EquityMicros-500*USD, after.EquityMicros)
	assert.Equal(t, before.WithdrawableMicros, after.WithdrawableMicros)

	recs, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, int64(0), r.ReferralBonusMicros)
	}
}

func (suite) lossFromRegularPaysNoBonus(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	sponsor := MustCreate(t, svc, "Sponsor", ledger.KindPioneer, 0, nil)
	client := MustCreate(t, svc, "Client", ledger.KindRegular, 1000*USD, &sponsor.ID)

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: -200 * USD, Date: PostedOn})
	require.NoError(t, err)
	assert.Empty(t, res.Bonuses)
	assert.Equal(t, int64(0), MustAccount(t, svc, sponsor.ID).WithdrawableMicros)
	assert.Equal(t, 800*USD, MustAccount(t, svc, client.ID).EquityMicros)
}

func (suite) rejectsZeroAndUnknown(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := MustCreate(t, svc, "Zed", ledger.KindRegular, 100*USD, nil)

	_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: acc.ID, AmountMicros: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.PostProfit(ctx, ledger.PostingInput{AccountID: 4242, AmountMicros: 10 * USD})
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)

	recs, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 100*USD, MustAccount(t, svc, acc.ID).EquityMicros)
}

func (suite) postingIsNotIdempotent(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := MustCreate(t, svc, "Twice", ledger.KindRegular, 0, nil)

	in := ledger.PostingInput{AccountID: acc.ID, AmountMicros: 100 * USD, Date: PostedOn}
	first, err := svc.PostProfit(ctx, in)
	require.NoError(t, err)
	second, err := svc.PostProfit(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.PrimaryID, second.PrimaryID)

	recs, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{AccountID: acc.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	got := MustAccount(t, svc, acc.ID)
	assert.Equal(t, 200*USD, got.EquityMicros)
	assert.Equal(t, 130*USD, got.WithdrawableMicros)
}

func (suite) idempotencyKey(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := MustCreate(t, svc, "Keyed", ledger.KindPioneer, 0, nil)

	in := ledger.PostingInput{AccountID: acc.ID, AmountMicros: 100 * USD, Date: PostedOn, IdempotencyKey: "post-1"}
	_, err := svc.PostProfit(ctx, in)
	require.NoError(t, err)
	_, err = svc.PostProfit(ctx, in)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotency)

	got := MustAccount(t, svc, acc.ID)
	assert.Equal(t, 100*USD, got.EquityMicros)
	assert.Equal(t, 75*USD, got.WithdrawableMicros)

	in.IdempotencyKey = "post-2"
	_, err = svc.PostProfit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 200*USD, MustAccount(t, svc, acc.ID).EquityMicros)
}

func (suite) threeTierChain(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	top := MustCreate(t, svc, "Top", ledger.KindPioneer, 0, nil)
	mid := MustCreate(t, svc, "Mid", ledger.KindPioneer, 0, &top.ID)
	low := MustCreate(t, svc, "Low", ledger.KindPioneer, 0, &mid.ID)
	client := MustCreate(t, svc, "Client", ledger.KindRegular, 0, &low.ID)

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: 1000 * USD, Date: PostedOn})
	require.NoError(t, err)
	assert.Equal(t, 100*USD, res.ReferralTotalMicros)
	assert.Equal(t, 250*USD, res.OwnerShareMicros)

	assert.Equal(t, 60*USD, MustAccount(t, svc, low.ID).WithdrawableMicros)
	assert.Equal(t, 30*USD, MustAccount(t, svc, mid.ID).WithdrawableMicros)
	assert.Equal(t, 10*USD, MustAccount(t, svc, top.ID).WithdrawableMicros)
}

func (suite) sponsorCycleTerminates(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	a := MustCreate(t, svc, "Alpha", ledger.KindPioneer, 0, nil)
	b := MustCreate(t, svc, "Beta", ledger.KindPioneer, 0, &a.ID)
	regular := ledger.KindRegular
	_, err := svc.UpdateAccount(ctx, a.ID, ledger.AccountPatch{ReferredBy: &b.ID, Kind: &regular})
	require.NoError(t, err)

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: a.ID, AmountMicros: 1000 * USD, Date: PostedOn})
	require.NoError(t, err)
	require.Len(t, res.Bonuses, 1)
	assert.Equal(t, b.ID, res.Bonuses[0].AccountID)
	assert.Equal(t, 60*USD, res.ReferralTotalMicros)
}

func (suite) referralTotalNeverExceedsPool(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	top := MustCreate(t, svc, "Top", ledger.KindPioneer, 0, nil)
	mid := MustCreate(t, svc, "Mid", ledger.KindPioneer, 0, &top.ID)
	low := MustCreate(t, svc, "Low", ledger.KindPioneer, 0, &mid.ID)
	client := MustCreate(t, svc, "Client", ledger.KindRegular, 0, &low.ID)

	for _, amount := range []int64{1, 7, 333_333_333, 1_000_000 * USD, ledger.MaxPostingMicros} {
		res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: amount, Date: PostedOn})
		require.NoError(t, err)
		assert.LessOrEqual(t, res.ReferralTotalMicros, amount*svc.Resolver().MaxPoolBps()/ledger.BpsScale)
		assert.Equal(t, amount, res.ClientShareMicros+res.OwnerShareMicros+res.ReferralTotalMicros)
	}
}

func (s suite) concurrentPostingsSerialize(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	sponsor := MustCreate(t, svc, "Sponsor", ledger.KindPioneer, 0, nil)
	a := MustCreate(t, svc, "A", ledger.KindRegular, 0, &sponsor.ID)
	b := MustCreate(t, svc, "B", ledger.KindRegular, 0, &sponsor.ID)

	n := int64(s.concurrency)
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := int64(0); i < n; i++ {
		for _, id := range []int64{a.ID, b.ID} {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: id, AmountMicros: 100 * USD, Date: PostedOn})
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 2*n*6*USD, MustAccount(t, svc, sponsor.ID).WithdrawableMicros)
	assert.Equal(t, n*100*USD, MustAccount(t, svc, a.ID).EquityMicros)
	assert.Equal(t, n*65*USD, MustAccount(t, svc, b.ID).WithdrawableMicros)

	recs, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, int(4*n))
}

func (suite) timestampsFollowClock(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	sponsor := MustCreate(t, svc, "Sponsor", ledger.KindPioneer, 0, nil)
	client := MustCreate(t, svc, "Client", ledger.KindRegular, 0, &sponsor.ID)
	assert.True(t, Clock.Equal(client.CreatedAt))

	res, err := svc.PostProfit(ctx, ledger.PostingInput{AccountID: client.ID, AmountMicros: 100 * USD, IdempotencyKey: "clock-1"})
	require.NoError(t, err)
	assert.True(t, PostedOn.Equal(res.Date), "missing date defaults to the clock's day")

	recs, err := svc.ProfitHistory(ctx, ledger.ProfitFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.True(t, Clock.Equal(r.CreatedAt), "record %d created at %s", r.ID, r.CreatedAt)
	}

	w, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: client.ID, AmountMicros: 50 * USD})
	require.NoError(t, err)
	assert.True(t, Clock.Equal(w.RequestedAt))
}

func (suite) createAccountSponsorRules(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	regular := MustCreate(t, svc, "Regular Joe", ledger.KindRegular, 0, nil)
	assert.Equal(t, "regularjoe1", regular.ReferralCode)

	_, err := svc.CreateAccount(ctx, ledger.NewAccount{Name: "X", Kind: ledger.KindRegular, ReferredBy: &regular.ID})
	assert.ErrorIs(t, err, ledger.ErrInvalidSponsor)

	missing := int64(999)
	_, err = svc.CreateAccount(ctx, ledger.NewAccount{Name: "Y", Kind: ledger.KindRegular, ReferredBy: &missing})
	assert.ErrorIs(t, err, ledger.ErrInvalidSponsor)

	_, err = svc.CreateAccount(ctx, ledger.NewAccount{Name: "", Kind: ledger.KindRegular})
	assert.ErrorIs(t, err, ledger.ErrInvalidAccount)

	_, err = svc.CreateAccount(ctx, ledger.NewAccount{Name: "Neg", Kind: ledger.KindRegular, StartBalanceMicros: -1})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	p := MustCreate(t, svc, "Pia", ledger.KindPioneer, 2500*USD, nil)
	assert.Equal(t, 2500*USD, p.EquityMicros)
	assert.Equal(t, int64(0), p.WithdrawableMicros)
}

func (suite) listAccounts(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	p := MustCreate(t, svc, "Pat Pioneer", ledger.KindPioneer, 0, nil)
	MustCreate(t, svc, "Rita Regular", ledger.KindRegular, 0, &p.ID)
	MustCreate(t, svc, "Rob Regular", ledger.KindRegular, 0, nil)

	all, err := svc.ListAccounts(ctx, ledger.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pioneers, err := svc.ListAccounts(ctx, ledger.AccountFilter{Kind: ledger.KindPioneer})
	require.NoError(t, err)
	require.Len(t, pioneers, 1)
	assert.Equal(t, p.ID, pioneers[0].ID)

	found, err := svc.ListAccounts(ctx, ledger.AccountFilter{Search: "rita"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.NotNil(t, found[0].ReferredBy)
	assert.Equal(t, p.ID, *found[0].ReferredBy)
}

func (suite) downline(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	root := MustCreate(t, svc, "Root", ledger.KindPioneer, 0, nil)
	p2 := MustCreate(t, svc, "P2", ledger.KindPioneer, 0, &root.ID)
	MustCreate(t, svc, "R3", ledger.KindRegular, 0, &p2.ID)
	MustCreate(t, svc, "R4", ledger.KindRegular, 0, &root.ID)

	tree, err := svc.Downline(ctx, root.ID, 3)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "P2", tree.Children[0].Account.Name)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, 2, tree.Children[0].Children[0].Level)

	shallow, err := svc.Downline(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, shallow.Children[0].Children)
}

func (suite) requestWithdrawal(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := FundedAccount(t, svc)

	_, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 250 * USD})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	ticket, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 150 * USD, Method: "USDT", Details: "TRC20 wallet"})
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalPending, ticket.Status)
	assert.Equal(t, "USDT", ticket.Method)
	assert.Equal(t, 200*USD, MustAccount(t, svc, acc.ID).WithdrawableMicros)

	pending, err := svc.Withdrawals(ctx, ledger.WithdrawalFilter{AccountID: acc.ID, Status: ledger.WithdrawalPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ticket.ID, pending[0].ID)
	assert.Equal(t, "TRC20 wallet", pending[0].Details)
}

func (suite) requestWithdrawalValidation(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := FundedAccount(t, svc)

	_, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 5 * USD})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: 9999, AmountMicros: 50 * USD})
	assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
}

func (suite) approveWithdrawalRechecksBalance(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := FundedAccount(t, svc)

	first, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 150 * USD})
	require.NoError(t, err)
	second, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 150 * USD})
	require.NoError(t, err)

	approved, err := svc.ApproveWithdrawal(ctx, first.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalApproved, approved.Status)
	require.NotNil(t, approved.ProcessedAt)
	assert.Equal(t, "owner", approved.ProcessedBy)

	got := MustAccount(t, svc, acc.ID)
	assert.Equal(t, 50*USD, got.WithdrawableMicros)
	assert.Equal(t, acc.EquityMicros, got.EquityMicros, "approval leaves equity alone")

	_, err = svc.ApproveWithdrawal(ctx, second.ID, "owner")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	stillPending, err := svc.Withdrawals(ctx, ledger.WithdrawalFilter{Status: ledger.WithdrawalPending})
	require.NoError(t, err)
	require.Len(t, stillPending, 1)
	assert.Equal(t, second.ID, stillPending[0].ID)

	_, err = svc.ApproveWithdrawal(ctx, first.ID, "owner")
	assert.ErrorIs(t, err, ledger.ErrWithdrawalNotPending)

	_, err = svc.ApproveWithdrawal(ctx, 12345, "owner")
	assert.ErrorIs(t, err, ledger.ErrWithdrawalNotFound)
}

func (suite) rejectWithdrawal(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	acc := FundedAccount(t, svc)

	w, err := svc.RequestWithdrawal(ctx, ledger.WithdrawalRequest{AccountID: acc.ID, AmountMicros: 20 * USD})
	require.NoError(t, err)

	rejected, err := svc.RejectWithdrawal(ctx, w.ID, "admin", "details missing")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "details missing", rejected.Notes)
	assert.Equal(t, 200*USD, MustAccount(t, svc, acc.ID).WithdrawableMicros)

	_, err = svc.RejectWithdrawal(ctx, w.ID, "admin", "again")
	assert.ErrorIs(t, err, ledger.ErrWithdrawalNotPending)
}
