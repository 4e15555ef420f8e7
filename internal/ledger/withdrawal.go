package ledger

import (
	"context"
	"fmt"
	"strings"
)

// RequestWithdrawal opens a pending ticket. The withdrawable balance is only
// checked here; it is debited on approval.
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalRequest) (Withdrawal, error) {
	var out Withdrawal
	if in.AmountMicros <= 0 {
		return out, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	if in.AmountMicros < MinWithdrawalMicros {
		return out, fmt.Errorf("%w: minimum withdrawal is $%s", ErrInvalidAmount, FormatUSD(MinWithdrawalMicros))
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = "Other"
	}

	var acc Account
	err := s.withRetry(ctx, "request_withdrawal", func(tx Tx) error {
		var err error
		acc, err = tx.LockAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if in.AmountMicros > acc.WithdrawableMicros {
			return fmt.Errorf("%w: requested $%s, available $%s", ErrInsufficientBalance,
				FormatUSD(in.AmountMicros), FormatUSD(acc.WithdrawableMicros))
		}
		out = Withdrawal{
			AccountID:    acc.ID,
			AmountMicros: in.AmountMicros,
			Method:       method,
			Details:      strings.TrimSpace(in.Details),
			Status:       WithdrawalPending,
			RequestedAt:  s.now().UTC(),
		}
		out.ID, err = tx.InsertWithdrawal(ctx, out)
		return err
	})
	if err != nil {
		return Withdrawal{}, err
	}

	s.record(ctx, "Withdrawal Requested", fmt.Sprintf("%s (%d) requested $%s via %s",
		acc.Name, acc.ID, FormatUSD(out.AmountMicros), out.Method))
	s.send(ctx, acc.ID, "Withdrawal Requested",
		fmt.Sprintf("Your withdrawal request of $%s is pending review.", FormatUSD(out.AmountMicros)))
	return out, nil
}

// ApproveWithdrawal re-checks the current withdrawable balance and debits it.
func (s *Service) ApproveWithdrawal(ctx context.Context, id int64, processedBy string) (Withdrawal, error) {
	var out Withdrawal
	err := s.withRetry(ctx, "approve_withdrawal", func(tx Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return fmt.Errorf("%w: status is %s", ErrWithdrawalNotPending, w.Status)
		}
		acc, err := tx.LockAccount(ctx, w.AccountID)
		if err != nil {
			return err
		}
		if w.AmountMicros > acc.WithdrawableMicros {
			return fmt.Errorf("%w: requested $%s, available $%s", ErrInsufficientBalance,
				FormatUSD(w.AmountMicros), FormatUSD(acc.WithdrawableMicros))
		}
		if _, err := tx.ApplyBalances(ctx, acc.ID, 0, -w.AmountMicros); err != nil {
			return err
		}
		now := s.now().UTC()
		w.Status = WithdrawalApproved
		w.ProcessedAt = &now
		w.ProcessedBy = strings.TrimSpace(processedBy)
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}

	s.record(ctx, "Withdrawal Approved", fmt.Sprintf("Withdrawal %d for client %d ($%s) approved by %s",
		out.ID, out.AccountID, FormatUSD(out.AmountMicros), out.ProcessedBy))
	s.send(ctx, out.AccountID, "Withdrawal Approved",
		fmt.Sprintf("Your withdrawal of $%s has been approved.", FormatUSD(out.AmountMicros)))
	return out, nil
}

func (s *Service) RejectWithdrawal(ctx context.Context, id int64, processedBy, reason string) (Withdrawal, error) {
	var out Withdrawal
	reason = strings.TrimSpace(reason)
	err := s.withRetry(ctx, "reject_withdrawal", func(tx Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != WithdrawalPending {
			return fmt.Errorf("%w: status is %s", ErrWithdrawalNotPending, w.Status)
		}
		now := s.now().UTC()
		w.Status = WithdrawalRejected
		w.ProcessedAt = &now
		w.ProcessedBy = strings.TrimSpace(processedBy)
		w.Notes = reason
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}

	s.record(ctx, "Withdrawal Rejected", fmt.Sprintf("Withdrawal %d for client %d rejected by %s: %s",
		out.ID, out.AccountID, out.ProcessedBy, reason))
	msg := fmt.Sprintf("Your withdrawal of $%s was rejected.", FormatUSD(out.AmountMicros))
	if reason != "" {
		msg += " Reason: " + reason
	}
	s.send(ctx, out.AccountID, "Withdrawal Rejected", msg)
	return out, nil
}

func (s *Service) Withdrawals(ctx context.Context, filter WithdrawalFilter) ([]Withdrawal, error) {
	return s.store.Withdrawals(ctx, filter)
}
