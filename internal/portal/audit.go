package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type actorKey struct{}

type Actor struct {
	Type string // owner, admin, client, system
	ID   string
}

// WithActor attaches the caller recorded by AuditLog.Log.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, Actor{Type: actorType, ID: actorID})
}

func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && a.Type != "" {
		return a
	}
	return Actor{Type: "system"}
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	ActorType  string    `json:"actor_type"`
	ActorID    string    `json:"actor_id"`
}

// AuditLog is the append-only activity table. Every entry is mirrored to
// the structured log.
type AuditLog struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewAuditLog(db *pgxpool.Pool, log zerolog.Logger) *AuditLog {
	return &AuditLog{db: db, log: log.With().Str("component", "audit").Logger()}
}

func (a *AuditLog) Log(ctx context.Context, action, details string) error {
	actor := ActorFrom(ctx)
	a.log.Info().Str("action", action).Str("actor", actor.Type+":"+actor.ID).Msg(details)
	_, err := a.db.Exec(ctx, `
		INSERT INTO kmfx.audit_logs (action, details, actor_type, actor_id)
		VALUES ($1, $2, $3, $4)
	`, action, details, actor.Type, actor.ID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (a *AuditLog) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 5000 {
		limit = 200
	}
	rows, err := a.db.Query(ctx, `
		SELECT id, occurred_at, action, details, actor_type, actor_id
		FROM kmfx.audit_logs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEntry, error) {
		var e AuditEntry
		err := row.Scan(&e.ID, &e.OccurredAt, &e.Action, &e.Details, &e.ActorType, &e.ActorID)
		return e, err
	})
}
