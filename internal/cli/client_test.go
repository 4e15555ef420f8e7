package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kmfx/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLoginAndPost(t *testing.T) {
	var gotIdem, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/staff/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok", "role": "owner", "username": "kmfx", "expires_at": "2030-01-01T00:00:00Z",
			})
		case "/v1/profits":
			gotIdem = r.Header.Get("Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"primary_id": 9, "client_share_micros": 650000000})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	sess, err := c.StaffLogin(context.Background(), "kmfx", "secret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOwner, sess.Role)
	assert.Equal(t, "tok", sess.AccessToken)

	res, err := c.PostProfit(context.Background(), sess.AccessToken, 4, "1000", "2025-03-14", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.PrimaryID)
	assert.Equal(t, "idem-1", gotIdem)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "1000", gotBody["amount"])
	assert.Equal(t, "2025-03-14", gotBody["date"])
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"duplicate idempotency key"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Do(context.Background(), http.MethodPost, "/v1/profits", "tok", nil, "k")
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsUnreachable(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "duplicate idempotency key", apiErr.Message)

	down := NewClient("http://127.0.0.1:1")
	down.HTTP.Timeout = time.Second
	_, err = down.Do(context.Background(), http.MethodGet, "/healthz", "", nil, "")
	assert.True(t, IsUnreachable(err))
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="KMFX_Profits_2025-03-14.csv"`)
		_, _ = w.Write([]byte("date,client\n"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	name, err := NewClient(srv.URL).Download(context.Background(), "tok", "/v1/reports/profits.csv", &buf)
	require.NoError(t, err)
	assert.Equal(t, "KMFX_Profits_2025-03-14.csv", name)
	assert.Equal(t, "date,client\n", buf.String())
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("KMFX_HOME", t.TempDir())

	_, err := LoadSession()
	require.Error(t, err)

	in := Session{AccessToken: "tok", Role: auth.RoleClient, Username: "rita", AccountID: 3, ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, SaveSession(in))
	got, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, in.AccountID, got.AccountID)
	assert.Equal(t, in.Role, got.Role)

	require.NoError(t, SaveSession(Session{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	_, err = LoadSession()
	assert.ErrorContains(t, err, "expired")

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
}
