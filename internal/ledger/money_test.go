package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUSD(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1000", 1000 * MicrosPerUSD},
		{"$1,250.75", 1_250_750_000},
		{"-12.5", -12_500_000},
		{"0.000001", 1},
		{" 42 ", 42 * MicrosPerUSD},
	}
	for _, tc := range tests {
		got, err := ParseUSD(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "abc", "0.0000001", "2000000000"} {
		_, err := ParseUSD(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "650.00", FormatUSD(650*MicrosPerUSD))
	assert.Equal(t, "-500.00", FormatUSD(-500*MicrosPerUSD))
	assert.Equal(t, "1.23", FormatUSD(1_234_567))
	assert.Equal(t, "0.00", FormatUSD(0))
}
