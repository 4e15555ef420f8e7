package ledger

import "fmt"

func ShareRateBps(kind AccountKind) int64 {
	if kind == KindPioneer {
		return PioneerShareBps
	}
	return RegularShareBps
}

// SplitProfit returns the base client and owner shares of a posting before
// any referral payouts are taken out of the owner share. Losses are absorbed
// entirely by the owner.
func SplitProfit(kind AccountKind, amountMicros int64) (clientMicros, ownerMicros int64) {
	if amountMicros <= 0 {
		return 0, amountMicros
	}
	clientMicros = shareOf(amountMicros, ShareRateBps(kind))
	return clientMicros, amountMicros - clientMicros
}

func validatePostingAmount(amountMicros int64) error {
	if amountMicros == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	if amountMicros > MaxPostingMicros || amountMicros < -MaxPostingMicros {
		return fmt.Errorf("%w: amount exceeds %s USD", ErrInvalidAmount, FormatUSD(MaxPostingMicros))
	}
	return nil
}
