package audit

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const stmt = `
INSERT INTO audit_events (id, type, actor, call_id, session_id, conversation_id, phone, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	var meta any
	if e.Metadata != "" {
		meta = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, stmt,
		e.ID,
		string(e.Type),
		e.Actor,
		e.CallID,
		e.SessionID,
		e.ConversationID,
		e.Phone,
		e.Message,
		meta,
		e.CreatedAt,
	)
	return err
}
