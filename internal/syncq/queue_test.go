package syncq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushLoad(t *testing.T) {
	q, err := Open(t.TempDir())
	require.NoError(t, err)

	empty, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := NewCommand("POST", "/v1/profits", map[string]any{"account_id": int64(3), "amount": "120.50"})
	require.NoError(t, q.Push(first))
	require.NoError(t, q.Push(NewCommand("POST", "/v1/withdrawals/4/approve", nil)))

	got, err := q.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.IdempotencyKey, got[0].IdempotencyKey)
	assert.Equal(t, "120.50", got[0].Body["amount"])
	assert.NotEqual(t, got[0].IdempotencyKey, got[1].IdempotencyKey)
}

func TestQueueDrain(t *testing.T) {
	ctx := context.Background()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		require.NoError(t, q.Push(NewCommand("POST", p, nil)))
	}

	offline := errors.New("connection refused")
	res, err := q.Drain(ctx, func(_ context.Context, c Command) error {
		switch c.Path {
		case "/b":
			return ErrAlreadyApplied
		case "/c":
			return offline
		}
		return nil
	})
	assert.ErrorIs(t, err, offline)
	assert.Equal(t, DrainResult{Applied: 1, Skipped: 1, Remaining: 2}, res)

	left, err := q.Load()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "/c", left[0].Path)

	res, err = q.Drain(ctx, func(context.Context, Command) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	left, err = q.Load()
	require.NoError(t, err)
	assert.Empty(t, left)
}
