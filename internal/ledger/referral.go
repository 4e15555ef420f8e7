package ledger

import (
	"context"
	"errors"
)

// LookupFunc returns the latest state of an account. Inside a posting it is
// backed by the open transaction so every read is locked.
type LookupFunc func(ctx context.Context, id int64) (Account, error)

// Resolver walks the sponsor chain of a triggering account. Only Regular
// accounts generate bonuses, and only an unbroken chain of Pioneer sponsors
// is paid, one fraction per tier.
type Resolver struct {
	tiers []int64
}

func NewResolver() *Resolver {
	return &Resolver{tiers: TierBonusBps[:]}
}

// MaxPoolBps is the largest share of a posting the resolver can hand out.
func (r *Resolver) MaxPoolBps() int64 {
	var total int64
	for _, bps := range r.tiers {
		total += bps
	}
	return total
}

// Resolve returns the ordered upline payouts for a posting of amountMicros
// by accountID. A missing sponsor, a non-Pioneer sponsor or a revisited
// account ends the walk without error.
func (r *Resolver) Resolve(ctx context.Context, accountID, amountMicros int64, lookup LookupFunc) ([]Payout, error) {
	trigger, err := lookup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if amountMicros <= 0 || trigger.Kind != KindRegular || trigger.ReferredBy == nil {
		return nil, nil
	}

	visited := map[int64]struct{}{trigger.ID: {}}
	out := make([]Payout, 0, len(r.tiers))
	next := trigger.ReferredBy
	for tier := 1; tier <= len(r.tiers) && next != nil; tier++ {
		if _, seen := visited[*next]; seen {
			break
		}
		sponsor, err := lookup(ctx, *next)
		if errors.Is(err, ErrUnknownAccount) {
			break
		}
		if err != nil {
			return nil, err
		}
		if sponsor.Kind != KindPioneer {
			break
		}
		visited[sponsor.ID] = struct{}{}
		out = append(out, Payout{AccountID: sponsor.ID, Tier: tier, FractionBps: r.tiers[tier-1]})
		next = sponsor.ReferredBy
	}
	return out, nil
}
