package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllContinuesAfterFailure(t *testing.T) {
	s := New(zerolog.Nop())
	var ran []string
	boom := errors.New("boom")

	err := s.RunAll(
		Func{JobName: "first", Fn: func() error { ran = append(ran, "first"); return boom }},
		Func{JobName: "second", Fn: func() error { ran = append(ran, "second"); return nil }},
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := Func{JobName: "noop", Fn: func() error { return nil }}

	require.NoError(t, s.AddJob("@every 1m", job))
	require.NoError(t, s.AddJob("0 */5 * * * *", job))
	assert.Error(t, s.AddJob("every minute", job))
}
