package portal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kmfx/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeRevenue(t *testing.T) {
	assert.Equal(t, RevenueStats{}, SummarizeRevenue(nil))

	one := SummarizeRevenue([]MonthRevenue{{Month: "2025-01", OwnerMicros: 100}})
	assert.Equal(t, int64(100), one.MeanMicros)
	assert.Zero(t, one.StdDevMicros)
	assert.Equal(t, "2025-01", one.BestMonth)

	months := []MonthRevenue{
		{Month: "2025-01", OwnerMicros: 2_000_000},
		{Month: "2025-02", OwnerMicros: 4_000_000},
		{Month: "2025-03", OwnerMicros: -1_000_000},
		{Month: "2025-04", OwnerMicros: 7_000_000},
	}
	got := SummarizeRevenue(months)
	assert.Equal(t, 4, got.Months)
	assert.Equal(t, int64(12_000_000), got.TotalMicros)
	assert.Equal(t, int64(3_000_000), got.MeanMicros)
	// sample std dev of 2,4,-1,7 is sqrt(34/3)
	assert.InDelta(t, 3_366_502, got.StdDevMicros, 1)
	assert.Equal(t, "2025-04", got.BestMonth)
	assert.Equal(t, "2025-03", got.WorstMonth)
}

func TestWriteProfitsCSV(t *testing.T) {
	var buf bytes.Buffer
	rows := []ProfitRow{{
		Date: time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), ClientName: "Doe, Jane", ClientKind: ledger.KindRegular,
		Kind: ledger.RecordPrimary, AmountMicros: 1000 * ledger.MicrosPerUSD, ClientShareMicros: 650 * ledger.MicrosPerUSD,
		OwnerShareMicros: 290 * ledger.MicrosPerUSD,
	}}
	require.NoError(t, WriteProfitsCSV(&buf, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `2025-03-07,"Doe, Jane",Regular,primary,0,1000.00,650.00,290.00,0.00`, lines[1])
}

func TestWriteClientsCSV(t *testing.T) {
	sponsor := int64(3)
	var buf bytes.Buffer
	require.NoError(t, WriteClientsCSV(&buf, []ledger.Account{{
		ID: 9, Name: "Joe", Kind: ledger.KindRegular, ReferredBy: &sponsor, ReferralCode: "joe9",
		EquityMicros: 1_500_000,
	}}))
	assert.Contains(t, buf.String(), "9,Joe,Regular,,0.00,1.50,0.00,3,joe9,\n")
}

func TestDigest(t *testing.T) {
	out := Digest(Summary{Clients: 4, Pioneers: 1, TotalEquityMicros: 10 * ledger.MicrosPerUSD, PendingWithdrawals: 2,
		PendingWithdrawalMicros: 30 * ledger.MicrosPerUSD}, []MonthRevenue{{OwnerMicros: 5 * ledger.MicrosPerUSD}})
	assert.Contains(t, out, "Clients: 4 (1 pioneers)")
	assert.Contains(t, out, "Owner revenue this month: $5.00")
	assert.Contains(t, out, "Pending withdrawals: 2 ($30.00)")
}

func TestNormalizeUsername(t *testing.T) {
	u, err := normalizeUsername("  Jane.Doe ")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe", u)

	for _, bad := range []string{"ab", "has space", "semi;colon", strings.Repeat("x", 33)} {
		_, err := normalizeUsername(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, Actor{Type: "system"}, ActorFrom(context.Background()))
	ctx := WithActor(context.Background(), "admin", "sam")
	assert.Equal(t, Actor{Type: "admin", ID: "sam"}, ActorFrom(ctx))
}

func TestUploadValidate(t *testing.T) {
	assert.ErrorIs(t, Upload{Name: "", Body: strings.NewReader("x")}.validate(), ErrInvalidInput)
	assert.ErrorIs(t, Upload{Name: "a.pdf"}.validate(), ErrInvalidInput)
	assert.ErrorIs(t, Upload{Name: "a.pdf", Size: maxUploadBytes + 1, Body: strings.NewReader("x")}.validate(), ErrInvalidInput)
	assert.NoError(t, Upload{Name: "a.pdf", Size: 1, Body: strings.NewReader("x")}.validate())
}

func TestCleanText(t *testing.T) {
	got, err := cleanText("  hello ", 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = cleanText("   ", 10)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = cleanText("ééééé", 4)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
