package sqlite

import (
	"context"
	"time"

	"kmfx/internal/ledger"
)

type Notification struct {
	ID        int64
	AccountID int64
	Title     string
	Message   string
	Category  string
	CreatedAt time.Time
	Read      bool
}

type AuditEntry struct {
	ID         int64
	OccurredAt time.Time
	Action     string
	Details    string
	Actor      string
}

// Notify stores a client notification in the local inbox.
func (s *Store) Notify(ctx context.Context, accountID int64, title, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (account_id, title, message, category, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, accountID, title, message, ledger.NotificationCategory(title), s.now().UTC().Format(tsLayout))
	return err
}

func (s *Store) Log(ctx context.Context, action, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (occurred_at, action, details, actor)
		VALUES (?, ?, ?, 'local')
	`, s.now().UTC().Format(tsLayout), action, details)
	return err
}

func (s *Store) Notifications(ctx context.Context, accountID int64) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, title, message, category, created_at, read
		FROM notifications
		WHERE account_id = ?
		ORDER BY id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var (
			n  Notification
			ts string
		)
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Title, &n.Message, &n.Category, &ts, &n.Read); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = time.Parse(tsLayout, ts); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) AuditEntries(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, action, details, actor
		FROM audit_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Details, &e.Actor); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = time.Parse(tsLayout, ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
