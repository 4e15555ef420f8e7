package portal

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

type SenderSide string

const (
	SenderStaff  SenderSide = "staff"
	SenderClient SenderSide = "client"
)

const maxMessageLen = 4000

type Message struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	Sender     SenderSide `json:"sender"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	Read       bool       `json:"read"`
}

type ThreadSummary struct {
	AccountID   int64     `json:"account_id"`
	AccountName string    `json:"account_name"`
	LastAt      time.Time `json:"last_at"`
	Unread      int64     `json:"unread"`
}

type Announcement struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	PostedBy  string    `json:"posted_by"`
	CreatedAt time.Time `json:"created_at"`
}

func cleanText(s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > max {
		return "", fmt.Errorf("%w: text must be 1-%d characters", ErrInvalidInput, max)
	}
	return s, nil
}

func (s *Service) SendMessage(ctx context.Context, accountID int64, from SenderSide, senderName, body string) (Message, error) {
	if from != SenderStaff && from != SenderClient {
		return Message{}, fmt.Errorf("%w: sender %q", ErrInvalidInput, from)
	}
	body, err := cleanText(body, maxMessageLen)
	if err != nil {
		return Message{}, err
	}
	if _, err := s.ledger.Account(ctx, accountID); err != nil {
		return Message{}, err
	}
	m := Message{AccountID: accountID, Sender: from, SenderName: senderName, Body: body}
	err = s.db.QueryRow(ctx, `
		INSERT INTO kmfx.messages (account_id, sender, sender_name, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, accountID, string(from), senderName, body).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if from == SenderStaff {
		s.send(ctx, accountID, "New Message", "You have a new message from support.")
	}
	return m, nil
}

// Thread returns the conversation oldest first and marks the other side's
// messages as read for viewer.
func (s *Service) Thread(ctx context.Context, accountID int64, viewer SenderSide) ([]Message, error) {
	other := SenderStaff
	if viewer == SenderStaff {
		other = SenderClient
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE kmfx.messages SET read = true
		WHERE account_id = $1 AND sender = $2 AND NOT read
	`, accountID, string(other)); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, sender, sender_name, body, created_at, read
		FROM kmfx.messages
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var (
			m      Message
			sender string
		)
		err := row.Scan(&m.ID, &m.AccountID, &sender, &m.SenderName, &m.Body, &m.CreatedAt, &m.Read)
		m.Sender = SenderSide(sender)
		return m, err
	})
}

// Threads lists every conversation with its count of unread client messages.
func (s *Service) Threads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.account_id, a.name, max(m.created_at),
			count(*) FILTER (WHERE m.sender = 'client' AND NOT m.read)
		FROM kmfx.messages m
		JOIN kmfx.accounts a ON a.id = m.account_id
		GROUP BY m.account_id, a.name
		ORDER BY max(m.created_at) DESC
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ThreadSummary, error) {
		var t ThreadSummary
		err := row.Scan(&t.AccountID, &t.AccountName, &t.LastAt, &t.Unread)
		return t, err
	})
}

func (s *Service) PostAnnouncement(ctx context.Context, title, message, postedBy string) (Announcement, error) {
	title, err := cleanText(title, 200)
	if err != nil {
		return Announcement{}, err
	}
	message, err = cleanText(message, maxMessageLen)
	if err != nil {
		return Announcement{}, err
	}
	a := Announcement{Title: title, Message: message, PostedBy: postedBy}
	err = s.db.QueryRow(ctx, `
		INSERT INTO kmfx.announcements (title, message, posted_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, title, message, postedBy).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Announcement{}, fmt.Errorf("insert announcement: %w", err)
	}
	s.record(ctx, "Announcement Posted", title)
	return a, nil
}

func (s *Service) Announcements(ctx context.Context, limit int) ([]Announcement, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, title, message, posted_by, created_at
		FROM kmfx.announcements
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Announcement, error) {
		var a Announcement
		err := row.Scan(&a.ID, &a.Title, &a.Message, &a.PostedBy, &a.CreatedAt)
		return a, err
	})
}
