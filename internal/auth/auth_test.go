package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := NewIssuer(testSecret, time.Hour)

	tok, exp, err := iss.Issue(Principal{Role: RoleClient, Username: "joe", AccountID: 42})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	p, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, p.Role)
	assert.Equal(t, int64(42), p.AccountID)
	assert.Equal(t, "client:42", p.Actor())
	assert.False(t, p.Role.Staff())
}

func TestVerifyRejects(t *testing.T) {
	iss := NewIssuer(testSecret, time.Hour)
	tok, _, err := iss.Issue(Principal{Role: RoleOwner, Username: "owner"})
	require.NoError(t, err)

	other := NewIssuer("ffffffffffffffffffffffffffffffff", time.Hour)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewIssuer(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	clientless, _, err := iss.Issue(Principal{Role: RoleClient, Username: "ghost"})
	require.NoError(t, err)
	_, err = iss.Verify(clientless)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrInvalidCredentials)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}
