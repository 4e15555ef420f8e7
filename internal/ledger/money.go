package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUSD converts a decimal dollar string such as "1000", "-12.50" or
// "$1,250.75" into micros. More than six fractional digits is an error.
func ParseUSD(s string) (int64, error) {
	clean := strings.TrimSpace(s)
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.Replace(clean, "$", "", 1)
	if clean == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	micros := d.Shift(6)
	if !micros.Equal(micros.Truncate(0)) {
		return 0, fmt.Errorf("%w: too many decimal places", ErrInvalidAmount)
	}
	if micros.Abs().GreaterThan(decimal.NewFromInt(MaxPostingMicros)) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return micros.IntPart(), nil
}

func USDToMicros(v decimal.Decimal) int64 {
	return v.Shift(6).Round(0).IntPart()
}

func MicrosToUSD(v int64) decimal.Decimal {
	return decimal.New(v, -6)
}

// FormatUSD renders micros as a two-decimal dollar amount, rounding half away from zero.
func FormatUSD(v int64) string {
	return MicrosToUSD(v).StringFixed(2)
}

func shareOf(amountMicros, bps int64) int64 {
	return amountMicros * bps / BpsScale
}
