// Package portal holds the dashboard features that sit around the ledger:
// licenses, messaging, announcements, file distribution, reports and logins.
package portal

import (
	"context"
	"errors"
	"time"

	"kmfx/internal/ledger"
	"kmfx/internal/vault"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUsernameUsed = errors.New("username already in use")
)

type Deps struct {
	Ledger   *ledger.Service
	Notifier ledger.Notifier
	Audit    ledger.AuditLog
	Blobs    vault.Blob

	OwnerUsername     string
	OwnerPasswordHash string
}

type Service struct {
	db       *pgxpool.Pool
	ledger   *ledger.Service
	notifier ledger.Notifier
	audit    ledger.AuditLog
	blobs    vault.Blob
	owner    string
	ownerPw  string
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(db *pgxpool.Pool, deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		blobs:    deps.Blobs,
		owner:    deps.OwnerUsername,
		ownerPw:  deps.OwnerPasswordHash,
		log:      logger.With().Str("component", "portal").Logger(),
		now:      time.Now,
	}
}

func (s *Service) send(ctx context.Context, accountID int64, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, accountID, title, message); err != nil {
		s.log.Warn().Err(err).Int64("account_id", accountID).Str("title", title).Msg("notify failed")
	}
}

func (s *Service) record(ctx context.Context, action, details string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, action, details); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit failed")
	}
}
