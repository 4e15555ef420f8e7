package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	store    Store
	resolver *Resolver
	notifier Notifier
	audit    AuditLog
	log      zerolog.Logger
	now      func() time.Time
}

// NewService wires the ledger to a store. Nil sinks are replaced with no-ops.
func NewService(store Store, notifier Notifier, audit AuditLog, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if audit == nil {
		audit = nopAudit{}
	}
	return &Service{
		store:    store,
		resolver: NewResolver(),
		notifier: notifier,
		audit:    audit,
		log:      logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for record timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// PostProfit applies one profit or loss posting to the account and its
// eligible upline in a single transaction.
func (s *Service) PostProfit(ctx context.Context, in PostingInput) (PostingResult, error) {
	var out PostingResult
	if err := validatePostingAmount(in.AmountMicros); err != nil {
		return out, err
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	in.Date = dateOnly(in.Date)
	key := strings.TrimSpace(in.IdempotencyKey)

	var trigger Account
	err := s.withRetry(ctx, "post_profit", func(tx Tx) error {
		out = PostingResult{AccountID: in.AccountID, AmountMicros: in.AmountMicros, Date: in.Date}
		now := s.now().UTC()

		if key != "" {
			if err := tx.ClaimIdempotencyKey(ctx, key, "post_profit", now); err != nil {
				return err
			}
		}

		acc, err := tx.LockAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		trigger = acc

		clientShare, ownerShare := SplitProfit(acc.Kind, in.AmountMicros)
		payouts, err := s.resolver.Resolve(ctx, acc.ID, in.AmountMicros, tx.LockAccount)
		if err != nil {
			return err
		}

		bonuses := make([]BonusCredit, 0, len(payouts))
		var referralTotal int64
		for _, p := range payouts {
			bonus := shareOf(in.AmountMicros, p.FractionBps)
			referralTotal += bonus
			bonuses = append(bonuses, BonusCredit{AccountID: p.AccountID, Tier: p.Tier, BonusMicros: bonus, FractionBps: p.FractionBps})
		}
		ownerShare -= referralTotal

		primaryID, err := tx.InsertProfit(ctx, ProfitRecord{
			AccountID:         acc.ID,
			AmountMicros:      in.AmountMicros,
			Date:              in.Date,
			ClientShareMicros: clientShare,
			OwnerShareMicros:  ownerShare,
			Kind:              RecordPrimary,
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}

		for i := range bonuses {
			b := &bonuses[i]
			recID, err := tx.InsertProfit(ctx, ProfitRecord{
				AccountID:           b.AccountID,
				Date:                in.Date,
				ReferralBonusMicros: b.BonusMicros,
				Kind:                RecordBonus,
				SourceID:            &primaryID,
				Tier:                b.Tier,
				CreatedAt:           now,
			})
			if err != nil {
				return err
			}
			b.RecordID = recID
			recipient, err := tx.ApplyBalances(ctx, b.AccountID, 0, b.BonusMicros)
			if err != nil {
				return err
			}
			b.Withdrawable = recipient.WithdrawableMicros
		}

		updated, err := tx.ApplyBalances(ctx, acc.ID, in.AmountMicros, clientShare)
		if err != nil {
			return err
		}

		out.PrimaryID = primaryID
		out.ClientShareMicros = clientShare
		out.OwnerShareMicros = ownerShare
		out.ReferralTotalMicros = referralTotal
		out.Bonuses = bonuses
		out.EquityMicros = updated.EquityMicros
		out.WithdrawableMicros = updated.WithdrawableMicros
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrDuplicateIdempotency), errors.Is(err, ErrInvalidAmount):
			return PostingResult{}, err
		default:
			s.log.Error().Err(err).Int64("account_id", in.AccountID).Msg("posting failed")
			return PostingResult{}, fmt.Errorf("%w: %w", ErrPostingFailed, err)
		}
	}

	s.log.Info().
		Int64("account_id", out.AccountID).
		Int64("primary_id", out.PrimaryID).
		Int64("amount_micros", out.AmountMicros).
		Int64("referral_total_micros", out.ReferralTotalMicros).
		Msg("profit posted")
	s.afterPosting(ctx, trigger, out)
	return out, nil
}

func (s *Service) afterPosting(ctx context.Context, trigger Account, res PostingResult) {
	for _, b := range res.Bonuses {
		s.record(ctx, "Referral Bonus", fmt.Sprintf("Client %d earned $%s tier %d bonus from %s (client %d)",
			b.AccountID, FormatUSD(b.BonusMicros), b.Tier, trigger.Name, trigger.ID))
		s.send(ctx, b.AccountID, "Referral Bonus",
			fmt.Sprintf("You earned a $%s referral bonus from %s's trading profit.", FormatUSD(b.BonusMicros), trigger.Name))
	}

	s.record(ctx, "Profit Recorded", fmt.Sprintf("Client %s (%d): amount $%s, client share $%s, owner share $%s, referral total $%s",
		trigger.Name, trigger.ID, FormatUSD(res.AmountMicros), FormatUSD(res.ClientShareMicros),
		FormatUSD(res.OwnerShareMicros), FormatUSD(res.ReferralTotalMicros)))

	if res.AmountMicros > 0 {
		s.send(ctx, trigger.ID, "Profit Recorded",
			fmt.Sprintf("A profit of $%s was recorded for %s. Your share: $%s.",
				FormatUSD(res.AmountMicros), res.Date.Format("2006-01-02"), FormatUSD(res.ClientShareMicros)))
	} else {
		s.send(ctx, trigger.ID, "Loss Recorded",
			fmt.Sprintf("A trading loss of $%s was recorded for %s.", FormatUSD(-res.AmountMicros), res.Date.Format("2006-01-02")))
	}
}

func (s *Service) send(ctx context.Context, accountID int64, title, message string) {
	if err := s.notifier.Notify(ctx, accountID, title, message); err != nil {
		s.log.Warn().Err(err).Int64("account_id", accountID).Str("title", title).Msg("notify failed")
	}
}

func (s *Service) record(ctx context.Context, action, details string) {
	if err := s.audit.Log(ctx, action, details); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit log failed")
	}
}

// withRetry runs fn in a fresh transaction until it commits, fails with a
// non-conflict error, or the attempt budget runs out.
func (s *Service) withRetry(ctx context.Context, op string, fn func(Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		s.log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("delay", retryDelay).Msg("transaction conflict, retrying")
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrConflict
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
