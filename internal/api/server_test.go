package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kmfx/internal/auth"
	"kmfx/internal/config"
	"kmfx/internal/ledger"
	"kmfx/internal/portal"
	"kmfx/internal/store/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	handler http.Handler
	tokens  *auth.Issuer
	owner   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	svc := ledger.NewService(store, store, store, zerolog.Nop())
	srv := New(config.APIConfig{CORSOrigins: []string{"*"}}, zerolog.Nop(), Deps{Tokens: tokens, Ledger: svc})

	owner, _, err := tokens.Issue(auth.Principal{Role: auth.RoleOwner, Username: "owner"})
	require.NoError(t, err)
	return &testAPI{handler: srv.Handler(), tokens: tokens, owner: owner}
}

func (a *testAPI) clientToken(t *testing.T, accountID int64) string {
	t.Helper()
	tok, _, err := a.tokens.Issue(auth.Principal{Role: auth.RoleClient, Username: "client", AccountID: accountID})
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestAuthAndRoles(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/v1/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/accounts", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	client := a.clientToken(t, 1)
	rec = a.do(t, http.MethodGet, "/v1/accounts", client, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/client/withdrawals", a.owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, _, err := a.tokens.Issue(auth.Principal{Role: auth.RoleAdmin, Username: "sam"})
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/v1/admins", admin, map[string]string{"username": "x", "password": "y"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/me", client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "client", me["role"])
	assert.Equal(t, float64(1), me["account_id"])
}

func TestProfitPostingFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/accounts", a.owner, map[string]any{"name": "Pat", "kind": "pioneer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sponsor := decode[ledger.Account](t, rec)

	rec = a.do(t, http.MethodPost, "/v1/accounts", a.owner, map[string]any{
		"name": "Rita", "kind": "Regular", "start_balance": "5,000", "referred_by": sponsor.ID, "expiry": "2026-01-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	client := decode[ledger.Account](t, rec)
	assert.Equal(t, 5000*ledger.MicrosPerUSD, client.EquityMicros)

	body := map[string]any{"account_id": client.ID, "amount": "1000", "date": "2025-03-14"}
	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, body, "Idempotency-Key", "post-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ledger.PostingResult](t, rec)
	assert.Equal(t, 650*ledger.MicrosPerUSD, res.ClientShareMicros)
	assert.Equal(t, 60*ledger.MicrosPerUSD, res.ReferralTotalMicros)
	assert.Equal(t, 290*ledger.MicrosPerUSD, res.OwnerShareMicros)

	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, body, "Idempotency-Key", "post-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, map[string]any{"account_id": client.ID, "amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, map[string]any{"account_id": 999, "amount": "10"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, map[string]any{"account_id": client.ID, "amount": "10", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/profits?account_id=%d", sponsor.ID), a.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[map[string][]ledger.ProfitRecord](t, rec)["records"]
	require.Len(t, records, 1)
	assert.Equal(t, ledger.RecordBonus, records[0].Kind)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/v1/accounts/%d/downline", sponsor.ID), a.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[ledger.DownlineNode](t, rec)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, client.ID, tree.Children[0].Account.ID)
}

func TestClientWithdrawalFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/accounts", a.owner, map[string]any{"name": "Wanda", "kind": "Pioneer"})
	require.Equal(t, http.StatusCreated, rec.Code)
	acc := decode[ledger.Account](t, rec)

	rec = a.do(t, http.MethodPost, "/v1/profits", a.owner, map[string]any{"account_id": acc.ID, "amount": "400"})
	require.Equal(t, http.StatusCreated, rec.Code)

	client := a.clientToken(t, acc.ID)
	rec = a.do(t, http.MethodPost, "/v1/client/withdrawals", client, map[string]any{"amount": "5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/client/withdrawals", client, map[string]any{"amount": "301"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/v1/client/withdrawals", client, map[string]any{"amount": "100", "method": "USDT"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ticket := decode[ledger.Withdrawal](t, rec)
	assert.Equal(t, ledger.WithdrawalPending, ticket.Status)

	rec = a.do(t, http.MethodGet, "/v1/withdrawals?status=PENDING", a.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]ledger.Withdrawal](t, rec)["withdrawals"], 1)

	rec = a.do(t, http.MethodGet, "/v1/withdrawals?status=lost", a.owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/approve", ticket.ID), a.owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[ledger.Withdrawal](t, rec)
	assert.Equal(t, "owner", approved.ProcessedBy)

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/reject", ticket.ID), a.owner, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/client/withdrawals", client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[map[string][]ledger.Withdrawal](t, rec)["withdrawals"]
	require.Len(t, mine, 1)
	assert.Equal(t, ledger.WithdrawalApproved, mine[0].Status)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrDuplicateIdempotency, http.StatusConflict},
		{fmt.Errorf("wrap: %w", ledger.ErrInvalidAmount), http.StatusBadRequest},
		{ledger.ErrInvalidSponsor, http.StatusBadRequest},
		{ledger.ErrInsufficientBalance, http.StatusConflict},
		{ledger.ErrWithdrawalNotPending, http.StatusConflict},
		{ledger.ErrUnknownAccount, http.StatusNotFound},
		{portal.ErrNotFound, http.StatusNotFound},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", ledger.ErrPostingFailed, ledger.ErrConflict), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.True(t, strings.Contains(rec.Body.String(), `"error"`))
	}
}

func TestParseWithdrawalStatus(t *testing.T) {
	st, err := parseWithdrawalStatus(" Rejected ")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalRejected, st)

	st, err = parseWithdrawalStatus("")
	require.NoError(t, err)
	assert.Empty(t, st)

	_, err = parseWithdrawalStatus("done")
	assert.Error(t, err)
}
