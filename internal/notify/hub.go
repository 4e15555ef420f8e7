// Package notify stores client notifications and relays them to the
// operator's Discord channel and the client's WhatsApp number.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"kmfx/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// Outgoing is a notification waiting for external delivery.
type Outgoing struct {
	Notification
	AccountName string
	Phone       string
	Tries       int
	DeliveredTo []string
}

func (o Outgoing) DeliveredVia(sender string) bool {
	return slices.Contains(o.DeliveredTo, sender)
}

// Hub is the Postgres-backed inbox and outbox.
type Hub struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewHub(db *pgxpool.Pool, log zerolog.Logger) *Hub {
	return &Hub{db: db, log: log.With().Str("component", "notify").Logger()}
}

func (h *Hub) Notify(ctx context.Context, accountID int64, title, message string) error {
	_, err := h.db.Exec(ctx, `
		INSERT INTO kmfx.notifications (account_id, title, message, category)
		VALUES ($1, $2, $3, $4)
	`, accountID, title, message, ledger.NotificationCategory(title))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	h.log.Debug().Int64("account_id", accountID).Str("title", title).Msg("notification queued")
	return nil
}

func (h *Hub) List(ctx context.Context, accountID int64, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := h.db.Query(ctx, `
		SELECT id, account_id, title, message, category, created_at, read
		FROM kmfx.notifications
		WHERE account_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY id DESC
		LIMIT $3
	`, accountID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.AccountID, &n.Title, &n.Message, &n.Category, &n.CreatedAt, &n.Read)
		return n, err
	})
}

func (h *Hub) UnreadCount(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := h.db.QueryRow(ctx, `SELECT count(*) FROM kmfx.notifications WHERE account_id = $1 AND NOT read`, accountID).Scan(&n)
	return n, err
}

func (h *Hub) MarkRead(ctx context.Context, accountID, id int64) error {
	cmd, err := h.db.Exec(ctx, `UPDATE kmfx.notifications SET read = true WHERE id = $1 AND account_id = $2`, id, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (h *Hub) MarkAllRead(ctx context.Context, accountID int64) (int64, error) {
	cmd, err := h.db.Exec(ctx, `UPDATE kmfx.notifications SET read = true WHERE account_id = $1 AND NOT read`, accountID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (h *Hub) Pending(ctx context.Context, limit, maxTries int) ([]Outgoing, error) {
	rows, err := h.db.Query(ctx, `
		SELECT n.id, n.account_id, n.title, n.message, n.category, n.created_at, n.read,
			a.name, a.phone, n.external_tries, n.delivered_to
		FROM kmfx.notifications n
		JOIN kmfx.accounts a ON a.id = n.account_id
		WHERE n.external_sent_at IS NULL AND n.external_tries < $2
		ORDER BY n.id
		LIMIT $1
	`, limit, maxTries)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Outgoing, error) {
		var o Outgoing
		err := row.Scan(&o.ID, &o.AccountID, &o.Title, &o.Message, &o.Category, &o.CreatedAt, &o.Read,
			&o.AccountName, &o.Phone, &o.Tries, &o.DeliveredTo)
		return o, err
	})
}

func (h *Hub) MarkSent(ctx context.Context, id int64) error {
	_, err := h.db.Exec(ctx, `
		UPDATE kmfx.notifications
		SET external_sent_at = now(), external_error = '', external_tries = external_tries + 1
		WHERE id = $1
	`, id)
	return err
}

func (h *Hub) MarkFailed(ctx context.Context, id int64, delivered []string, reason string) error {
	if delivered == nil {
		delivered = []string{}
	}
	_, err := h.db.Exec(ctx, `
		UPDATE kmfx.notifications
		SET external_error = $2, external_tries = external_tries + 1,
			delivered_to = delivered_to || $3::text[]
		WHERE id = $1
	`, id, reason, delivered)
	return err
}
