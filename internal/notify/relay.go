package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNoRecipient tells the relay that a sender has nowhere to deliver a
// message. It is not counted as a failure.
var ErrNoRecipient = errors.New("no recipient")

const DefaultMaxTries = 5

type Sender interface {
	Name() string
	Send(ctx context.Context, msg Outgoing) error
}

type Outbox interface {
	Pending(ctx context.Context, limit, maxTries int) ([]Outgoing, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkFailed records a failed attempt. delivered names the senders that
	// succeeded during it and must not be tried again.
	MarkFailed(ctx context.Context, id int64, delivered []string, reason string) error
}

type RelayStats struct {
	Sent   int
	Failed int
}

// Relay drains the outbox through every configured sender.
type Relay struct {
	outbox   Outbox
	senders  []Sender
	maxTries int
	log      zerolog.Logger
}

func NewRelay(outbox Outbox, log zerolog.Logger, senders ...Sender) *Relay {
	return &Relay{
		outbox:   outbox,
		senders:  senders,
		maxTries: DefaultMaxTries,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

func (r *Relay) RunOnce(ctx context.Context, batch int) (RelayStats, error) {
	var stats RelayStats
	if len(r.senders) == 0 {
		return stats, nil
	}
	pending, err := r.outbox.Pending(ctx, batch, r.maxTries)
	if err != nil {
		return stats, err
	}
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var delivered, failures []string
		for _, s := range r.senders {
			if msg.DeliveredVia(s.Name()) {
				continue
			}
			if err := s.Send(ctx, msg); err != nil && !errors.Is(err, ErrNoRecipient) {
				failures = append(failures, s.Name()+": "+err.Error())
				continue
			}
			delivered = append(delivered, s.Name())
		}
		if len(failures) > 0 {
			stats.Failed++
			reason := strings.Join(failures, "; ")
			r.log.Warn().Int64("notification_id", msg.ID).Int("tries", msg.Tries+1).Str("reason", reason).Msg("relay failed")
			if err := r.outbox.MarkFailed(ctx, msg.ID, delivered, reason); err != nil {
				return stats, err
			}
			continue
		}
		if err := r.outbox.MarkSent(ctx, msg.ID); err != nil {
			return stats, err
		}
		stats.Sent++
	}
	if stats.Sent+stats.Failed > 0 {
		r.log.Info().Int("sent", stats.Sent).Int("failed", stats.Failed).Msg("relay batch done")
	}
	return stats, nil
}
