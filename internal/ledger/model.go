package ledger

import (
	"errors"
	"strings"
	"time"
)

const (
	MicrosPerUSD = int64(1_000_000)

	// MaxPostingMicros bounds a single posting so share products stay inside int64.
	MaxPostingMicros = int64(1_000_000_000) * MicrosPerUSD

	MinWithdrawalMicros = int64(10) * MicrosPerUSD

	BpsScale = int64(10_000)

	PioneerShareBps = int64(7_500)
	RegularShareBps = int64(6_500)

	// MaxReferralDepth is the number of upline tiers that can earn a bonus.
	MaxReferralDepth = 3
)

// TierBonusBps are the referral fractions paid per tier, tier 1 first.
var TierBonusBps = [MaxReferralDepth]int64{600, 300, 100}

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrInsufficientBalance  = errors.New("insufficient withdrawable balance")
	ErrPostingFailed        = errors.New("posting failed")
	ErrConflict             = errors.New("transaction conflict")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInvalidSponsor       = errors.New("sponsor must be an existing pioneer account")
	ErrInvalidAccount       = errors.New("invalid account")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrWithdrawalNotPending = errors.New("withdrawal is not pending")
)

type AccountKind string

const (
	KindRegular AccountKind = "Regular"
	KindPioneer AccountKind = "Pioneer"
)

func ParseAccountKind(s string) (AccountKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "regular":
		return KindRegular, nil
	case "pioneer":
		return KindPioneer, nil
	default:
		return "", ErrInvalidAccount
	}
}

type RecordKind string

const (
	RecordPrimary RecordKind = "primary"
	RecordBonus   RecordKind = "bonus"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "Pending"
	WithdrawalApproved WithdrawalStatus = "Approved"
	WithdrawalRejected WithdrawalStatus = "Rejected"
)

type Account struct {
	ID                 int64       `json:"id"`
	Name               string      `json:"name"`
	Kind               AccountKind `json:"kind"`
	TradingAccounts    string      `json:"trading_accounts"`
	StartBalanceMicros int64       `json:"start_balance_micros"`
	EquityMicros       int64       `json:"equity_micros"`
	WithdrawableMicros int64       `json:"withdrawable_micros"`
	ReferredBy         *int64      `json:"referred_by,omitempty"`
	ReferralCode       string      `json:"referral_code"`
	Phone              string      `json:"phone,omitempty"`
	Expiry             *time.Time  `json:"expiry,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type ProfitRecord struct {
	ID                  int64      `json:"id"`
	AccountID           int64      `json:"account_id"`
	AmountMicros        int64      `json:"amount_micros"`
	Date                time.Time  `json:"date"`
	ClientShareMicros   int64      `json:"client_share_micros"`
	OwnerShareMicros    int64      `json:"owner_share_micros"`
	ReferralBonusMicros int64      `json:"referral_bonus_micros"`
	Kind                RecordKind `json:"kind"`
	SourceID            *int64     `json:"source_id,omitempty"`
	Tier                int        `json:"tier,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type Withdrawal struct {
	ID           int64            `json:"id"`
	AccountID    int64            `json:"account_id"`
	AmountMicros int64            `json:"amount_micros"`
	Method       string           `json:"method"`
	Details      string           `json:"details"`
	Status       WithdrawalStatus `json:"status"`
	RequestedAt  time.Time        `json:"requested_at"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty"`
	ProcessedBy  string           `json:"processed_by,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// Payout is one upline recipient produced by the resolver.
type Payout struct {
	AccountID   int64 `json:"account_id"`
	Tier        int   `json:"tier"`
	FractionBps int64 `json:"fraction_bps"`
}

type BonusCredit struct {
	RecordID     int64 `json:"record_id"`
	AccountID    int64 `json:"account_id"`
	Tier         int   `json:"tier"`
	BonusMicros  int64 `json:"bonus_micros"`
	FractionBps  int64 `json:"fraction_bps"`
	Withdrawable int64 `json:"withdrawable_micros"`
}

type PostingInput struct {
	AccountID      int64
	AmountMicros   int64
	Date           time.Time
	IdempotencyKey string
}

type PostingResult struct {
	PrimaryID           int64         `json:"primary_id"`
	AccountID           int64         `json:"account_id"`
	AmountMicros        int64         `json:"amount_micros"`
	ClientShareMicros   int64         `json:"client_share_micros"`
	OwnerShareMicros    int64         `json:"owner_share_micros"`
	ReferralTotalMicros int64         `json:"referral_total_micros"`
	Bonuses             []BonusCredit `json:"bonuses"`
	EquityMicros        int64         `json:"equity_micros"`
	WithdrawableMicros  int64         `json:"withdrawable_micros"`
	Date                time.Time     `json:"date"`
}

type WithdrawalRequest struct {
	AccountID    int64
	AmountMicros int64
	Method       string
	Details      string
}

type NewAccount struct {
	Name               string
	Kind               AccountKind
	TradingAccounts    string
	StartBalanceMicros int64
	ReferredBy         *int64
	Phone              string
	Expiry             *time.Time
	Notes              string
}

type AccountPatch struct {
	Name            *string
	Kind            *AccountKind
	TradingAccounts *string
	ReferredBy      *int64
	Phone           *string
	Expiry          *time.Time
	Notes           *string
}

type AccountFilter struct {
	Search string
	Kind   AccountKind
}

type ProfitFilter struct {
	AccountID int64
	From      *time.Time
	To        *time.Time
	Limit     int
}

type WithdrawalFilter struct {
	AccountID int64
	Status    WithdrawalStatus
}

// DownlineNode is one account in a sponsor tree.
type DownlineNode struct {
	Account  Account        `json:"account"`
	Level    int            `json:"level"`
	Children []DownlineNode `json:"children,omitempty"`
}
