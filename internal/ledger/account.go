package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const maxNameLen = 64

func (s *Service) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	var out Account
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLen {
		return out, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidAccount, maxNameLen)
	}
	if in.Kind != KindRegular && in.Kind != KindPioneer {
		return out, fmt.Errorf("%w: kind must be Regular or Pioneer", ErrInvalidAccount)
	}
	if in.StartBalanceMicros < 0 || in.StartBalanceMicros > MaxPostingMicros {
		return out, fmt.Errorf("%w: start balance out of range", ErrInvalidAmount)
	}

	err := s.withRetry(ctx, "create_account", func(tx Tx) error {
		if in.ReferredBy != nil {
			sponsor, err := tx.LockAccount(ctx, *in.ReferredBy)
			if errors.Is(err, ErrUnknownAccount) {
				return ErrInvalidSponsor
			}
			if err != nil {
				return err
			}
			if sponsor.Kind != KindPioneer {
				return ErrInvalidSponsor
			}
		}

		out = Account{
			Name:               name,
			Kind:               in.Kind,
			TradingAccounts:    strings.TrimSpace(in.TradingAccounts),
			StartBalanceMicros: in.StartBalanceMicros,
			EquityMicros:       in.StartBalanceMicros,
			ReferredBy:         in.ReferredBy,
			Phone:              strings.TrimSpace(in.Phone),
			Expiry:             in.Expiry,
			Notes:              strings.TrimSpace(in.Notes),
			CreatedAt:          s.now().UTC(),
		}
		id, err := tx.InsertAccount(ctx, out)
		if err != nil {
			return err
		}
		out.ID = id

		code, err := uniqueReferralCode(ctx, tx, name, id)
		if err != nil {
			return err
		}
		out.ReferralCode = code
		return tx.UpdateAccount(ctx, out)
	})
	if err != nil {
		return Account{}, err
	}

	s.record(ctx, "Client Added", fmt.Sprintf("Added %s client %s (%d) with start balance $%s",
		out.Kind, out.Name, out.ID, FormatUSD(out.StartBalanceMicros)))
	return out, nil
}

// UpdateAccount edits descriptive fields and may reassign the sponsor.
// Balances are never changed here. Sponsor chains are not checked for
// cycles; the resolver stops on a revisited account instead.
func (s *Service) UpdateAccount(ctx context.Context, id int64, patch AccountPatch) (Account, error) {
	var out Account
	err := s.withRetry(ctx, "update_account", func(tx Tx) error {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" || len(name) > maxNameLen {
				return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidAccount, maxNameLen)
			}
			acc.Name = name
		}
		if patch.Kind != nil {
			if *patch.Kind != KindRegular && *patch.Kind != KindPioneer {
				return fmt.Errorf("%w: kind must be Regular or Pioneer", ErrInvalidAccount)
			}
			acc.Kind = *patch.Kind
		}
		if patch.ReferredBy != nil {
			if *patch.ReferredBy == acc.ID {
				return ErrInvalidSponsor
			}
			sponsor, err := tx.LockAccount(ctx, *patch.ReferredBy)
			if errors.Is(err, ErrUnknownAccount) {
				return ErrInvalidSponsor
			}
			if err != nil {
				return err
			}
			if sponsor.Kind != KindPioneer {
				return ErrInvalidSponsor
			}
			sponsorID := sponsor.ID
			acc.ReferredBy = &sponsorID
		}
		if patch.TradingAccounts != nil {
			acc.TradingAccounts = strings.TrimSpace(*patch.TradingAccounts)
		}
		if patch.Phone != nil {
			acc.Phone = strings.TrimSpace(*patch.Phone)
		}
		if patch.Expiry != nil {
			acc.Expiry = patch.Expiry
		}
		if patch.Notes != nil {
			acc.Notes = strings.TrimSpace(*patch.Notes)
		}
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "Client Updated", fmt.Sprintf("Updated client %s (%d)", out.Name, out.ID))
	return out, nil
}

func (s *Service) Account(ctx context.Context, id int64) (Account, error) {
	return s.store.Account(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	return s.store.ListAccounts(ctx, filter)
}

func (s *Service) ProfitHistory(ctx context.Context, filter ProfitFilter) ([]ProfitRecord, error) {
	return s.store.ProfitHistory(ctx, filter)
}

// ReferralEarnings sums every bonus record credited to the account.
func (s *Service) ReferralEarnings(ctx context.Context, id int64) (int64, error) {
	if _, err := s.store.Account(ctx, id); err != nil {
		return 0, err
	}
	recs, err := s.store.ProfitHistory(ctx, ProfitFilter{AccountID: id})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range recs {
		if r.Kind == RecordBonus {
			total += r.ReferralBonusMicros
		}
	}
	return total, nil
}

// Downline returns the sponsor tree below id, at most depth levels deep.
// Accounts already placed in the tree are skipped.
func (s *Service) Downline(ctx context.Context, id int64, depth int) (DownlineNode, error) {
	if depth <= 0 || depth > MaxReferralDepth {
		depth = MaxReferralDepth
	}
	root, err := s.store.Account(ctx, id)
	if err != nil {
		return DownlineNode{}, err
	}
	seen := map[int64]struct{}{root.ID: {}}
	node := DownlineNode{Account: root}
	if err := s.fillDownline(ctx, &node, depth, seen); err != nil {
		return DownlineNode{}, err
	}
	return node, nil
}

func (s *Service) fillDownline(ctx context.Context, node *DownlineNode, depth int, seen map[int64]struct{}) error {
	if node.Level >= depth {
		return nil
	}
	children, err := s.store.Sponsored(ctx, node.Account.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		child := DownlineNode{Account: c, Level: node.Level + 1}
		if err := s.fillDownline(ctx, &child, depth, seen); err != nil {
			return err
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

func referralCodeBase(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "client"
	}
	return b.String()
}

func uniqueReferralCode(ctx context.Context, tx Tx, name string, id int64) (string, error) {
	base := referralCodeBase(name) + strconv.FormatInt(id, 10)
	code := base
	for n := 1; ; n++ {
		taken, err := tx.ReferralCodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		code = base + strconv.Itoa(n)
	}
}
