package vault

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"KMFX EA v2.ex5":       "KMFX_EA_v2.ex5",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\lic.txt`:  "lic.txt",
		"статья.pdf":           "pdf",
		"...":                  "file",
		"report (final)-1.csv": "report_final-1.csv",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), in)
	}
}

func TestNewKey(t *testing.T) {
	a := NewKey("clients/7", "Statement March.pdf")
	b := NewKey("clients/7", "Statement March.pdf")
	assert.True(t, strings.HasPrefix(a, "clients/7/"))
	assert.True(t, strings.HasSuffix(a, "_Statement_March.pdf"))
	assert.NotEqual(t, a, b)
	assert.True(t, validKey(a))
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := NewKey("ea", "kmfx.ex5")
	require.NoError(t, store.Put(ctx, Object{Key: key}, strings.NewReader("binary")))

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "binary", string(body))

	url, err := store.URL(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, url)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/abs", "a/../../b", "a//b", `a\b`} {
		err := store.Put(ctx, Object{Key: key}, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
