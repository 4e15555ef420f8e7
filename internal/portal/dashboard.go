package portal

import (
	"context"
	"fmt"

	"kmfx/internal/ledger"
)

type Summary struct {
	Clients                 int64 `json:"clients"`
	Pioneers                int64 `json:"pioneers"`
	TotalEquityMicros       int64 `json:"total_equity_micros"`
	TotalWithdrawableMicros int64 `json:"total_withdrawable_micros"`
	OwnerRevenueMicros      int64 `json:"owner_revenue_micros"`
	ReferralPaidMicros      int64 `json:"referral_paid_micros"`
	PendingWithdrawals      int64 `json:"pending_withdrawals"`
	PendingWithdrawalMicros int64 `json:"pending_withdrawal_micros"`
}

type ClientOverview struct {
	Account             ledger.Account `json:"account"`
	TotalProfitMicros   int64          `json:"total_profit_micros"`
	ReferralMicros      int64          `json:"referral_micros"`
	PendingWithdrawals  int64          `json:"pending_withdrawals"`
	UnreadNotifications int64          `json:"unread_notifications"`
	LatestLicense       *License       `json:"latest_license,omitempty"`
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM kmfx.accounts),
			(SELECT count(*) FROM kmfx.accounts WHERE kind = 'Pioneer'),
			(SELECT COALESCE(sum(equity_micros), 0) FROM kmfx.accounts),
			(SELECT COALESCE(sum(withdrawable_micros), 0) FROM kmfx.accounts),
			(SELECT COALESCE(sum(owner_share_micros), 0) FROM kmfx.profits WHERE kind = 'primary'),
			(SELECT COALESCE(sum(referral_bonus_micros), 0) FROM kmfx.profits WHERE kind = 'bonus'),
			(SELECT count(*) FROM kmfx.withdrawals WHERE status = 'Pending'),
			(SELECT COALESCE(sum(amount_micros), 0) FROM kmfx.withdrawals WHERE status = 'Pending')
	`).Scan(&out.Clients, &out.Pioneers, &out.TotalEquityMicros, &out.TotalWithdrawableMicros,
		&out.OwnerRevenueMicros, &out.ReferralPaidMicros, &out.PendingWithdrawals, &out.PendingWithdrawalMicros)
	return out, err
}

func (s *Service) ClientOverview(ctx context.Context, accountID int64) (ClientOverview, error) {
	var out ClientOverview
	acc, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return out, err
	}
	out.Account = acc
	err = s.db.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(sum(amount_micros), 0) FROM kmfx.profits WHERE account_id = $1 AND kind = 'primary'),
			(SELECT COALESCE(sum(referral_bonus_micros), 0) FROM kmfx.profits WHERE account_id = $1 AND kind = 'bonus'),
			(SELECT count(*) FROM kmfx.withdrawals WHERE account_id = $1 AND status = 'Pending'),
			(SELECT count(*) FROM kmfx.notifications WHERE account_id = $1 AND NOT read)
	`, accountID).Scan(&out.TotalProfitMicros, &out.ReferralMicros, &out.PendingWithdrawals, &out.UnreadNotifications)
	if err != nil {
		return out, err
	}
	licenses, err := s.Licenses(ctx, accountID)
	if err != nil {
		return out, err
	}
	if len(licenses) > 0 {
		out.LatestLicense = &licenses[0]
	}
	return out, nil
}

// Digest is the owner's end-of-day text. month holds the current month's
// revenue rows.
func Digest(sum Summary, month []MonthRevenue) string {
	var owner int64
	for _, m := range month {
		owner += m.OwnerMicros
	}
	return fmt.Sprintf("KMFX daily digest\nClients: %d (%d pioneers)\nTotal equity: $%s\nWithdrawable: $%s\nOwner revenue this month: $%s\nPending withdrawals: %d ($%s)",
		sum.Clients, sum.Pioneers,
		ledger.FormatUSD(sum.TotalEquityMicros),
		ledger.FormatUSD(sum.TotalWithdrawableMicros),
		ledger.FormatUSD(owner),
		sum.PendingWithdrawals, ledger.FormatUSD(sum.PendingWithdrawalMicros))
}
