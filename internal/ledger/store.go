package ledger

import (
	"context"
	"time"
)

// Store is the persistence port used by Service. InTx must run fn inside a
// single serializable unit and map transient contention to ErrConflict.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error

	Account(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	Sponsored(ctx context.Context, sponsorID int64) ([]Account, error)
	ProfitHistory(ctx context.Context, filter ProfitFilter) ([]ProfitRecord, error)
	Withdrawals(ctx context.Context, filter WithdrawalFilter) ([]Withdrawal, error)
}

// Tx is the set of reads and writes available inside one transaction.
// LockAccount and LockWithdrawal return ErrUnknownAccount and
// ErrWithdrawalNotFound for missing rows.
type Tx interface {
	LockAccount(ctx context.Context, id int64) (Account, error)
	ApplyBalances(ctx context.Context, id, equityDelta, withdrawableDelta int64) (Account, error)
	InsertProfit(ctx context.Context, rec ProfitRecord) (int64, error)
	ClaimIdempotencyKey(ctx context.Context, key, action string, at time.Time) error

	InsertAccount(ctx context.Context, acc Account) (int64, error)
	UpdateAccount(ctx context.Context, acc Account) error
	ReferralCodeTaken(ctx context.Context, code string) (bool, error)

	InsertWithdrawal(ctx context.Context, w Withdrawal) (int64, error)
	LockWithdrawal(ctx context.Context, id int64) (Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w Withdrawal) error
}

// Notifier delivers client-facing alerts. Errors never undo a committed posting.
type Notifier interface {
	Notify(ctx context.Context, accountID int64, title, message string) error
}

// AuditLog is the append-only activity sink.
type AuditLog interface {
	Log(ctx context.Context, action, details string) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, int64, string, string) error { return nil }

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, string) error { return nil }

// NotificationCategory groups the titles the ledger sends.
func NotificationCategory(title string) string {
	switch title {
	case "Profit Recorded", "Loss Recorded":
		return "Profit"
	case "Referral Bonus":
		return "Referral"
	case "Withdrawal Requested", "Withdrawal Approved", "Withdrawal Rejected":
		return "Withdrawal"
	case "New License Generated", "License Expiring":
		return "License"
	default:
		return "General"
	}
}
