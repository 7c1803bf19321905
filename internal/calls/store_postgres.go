package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: PostgresStore assumes this table exists:
//
//	CREATE TABLE call_sessions (
//	  call_id          text PRIMARY KEY,
//	  session_id       text NOT NULL,
//	  from_number      text NOT NULL,
//	  to_number        text NOT NULL,
//	  direction        text NOT NULL,
//	  agent            text NOT NULL,
//	  lead_id          text NOT NULL DEFAULT '',
//	  status           text NOT NULL,
//	  start_time       timestamptz,
//	  end_time         timestamptz,
//	  duration_seconds int NOT NULL DEFAULT 0,
//	  recording_url    text NOT NULL DEFAULT '',
//	  quality          jsonb,
//	  end_reason       text NOT NULL DEFAULT '',
//	  failure_reason   text NOT NULL DEFAULT '',
//	  created_at       timestamptz NOT NULL,
//	  updated_at       timestamptz NOT NULL
//	);
//	CREATE UNIQUE INDEX call_sessions_live_session_id
//	  ON call_sessions (session_id) WHERE status NOT IN ('Ended', 'Failed');

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const sessionColumns = `call_id, session_id, from_number, to_number, direction, agent, lead_id, status,
start_time, end_time, duration_seconds, recording_url, quality, end_reason, failure_reason, created_at, updated_at`

const uniqueViolation = "23505"

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	q, err := marshalQuality(s.Quality)
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`
	_, err = p.db.ExecContext(ctx, stmt,
		s.CallID,
		s.SessionID,
		s.FromNumber,
		s.ToNumber,
		string(s.Direction),
		s.Agent,
		s.LeadID,
		string(s.Status),
		nullTime(s.StartTime),
		nullTime(s.EndTime),
		s.DurationSeconds,
		s.RecordingURL,
		q,
		s.EndReason,
		s.FailureReason,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, sessionID string) (Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE session_id = $1
ORDER BY (status IN ('Ended', 'Failed')), created_at DESC
LIMIT 1
`
	return scanSession(p.db.QueryRowContext(ctx, q, sessionID))
}

func (p *PostgresStore) GetByCallID(ctx context.Context, callID string) (Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE call_id = $1
`
	return scanSession(p.db.QueryRowContext(ctx, q, callID))
}

func (p *PostgresStore) Update(ctx context.Context, s Session, expected ...Status) error {
	if len(expected) == 0 {
		return errors.New("calls: update requires expected statuses")
	}
	qj, err := marshalQuality(s.Quality)
	if err != nil {
		return err
	}
	args := []any{
		s.CallID,
		s.SessionID,
		string(s.Status),
		nullTime(s.StartTime),
		nullTime(s.EndTime),
		s.DurationSeconds,
		s.RecordingURL,
		qj,
		s.EndReason,
		s.FailureReason,
		s.UpdatedAt,
	}
	in, args := inList(args, expected)
	stmt := `
UPDATE call_sessions
SET session_id = $2, status = $3, start_time = $4, end_time = $5, duration_seconds = $6,
    recording_url = $7, quality = $8, end_reason = $9, failure_reason = $10, updated_at = $11
WHERE call_id = $1 AND status IN (` + in + `)
`
	res, err := p.db.ExecContext(ctx, stmt, args...)
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		if _, err := p.GetByCallID(ctx, s.CallID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error) {
	if len(statuses) == 0 {
		return []Session{}, nil
	}
	in, args := inList(nil, statuses)
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status IN (` + in + `)
ORDER BY created_at
`
	return p.list(ctx, q, args...)
}

func (p *PostgresStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at
`
	return p.list(ctx, q, from, to)
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s          Session
		direction  string
		status     string
		start, end sql.NullTime
		quality    []byte
	)
	err := row.Scan(
		&s.CallID,
		&s.SessionID,
		&s.FromNumber,
		&s.ToNumber,
		&direction,
		&s.Agent,
		&s.LeadID,
		&status,
		&start,
		&end,
		&s.DurationSeconds,
		&s.RecordingURL,
		&quality,
		&s.EndReason,
		&s.FailureReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.Direction = Direction(direction)
	s.Status = Status(status)
	if start.Valid {
		t := start.Time
		s.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	if len(quality) > 0 {
		var q Quality
		if err := json.Unmarshal(quality, &q); err != nil {
			return Session{}, fmt.Errorf("calls: decode quality: %w", err)
		}
		s.Quality = &q
	}
	return s, nil
}

// inList appends statuses to args and returns the matching "$n, $m" placeholder list.
func inList(args []any, statuses []Status) (string, []any) {
	ph := make([]string, len(statuses))
	for i, st := range statuses {
		args = append(args, string(st))
		ph[i] = fmt.Sprintf("$%d", len(args))
	}
	return strings.Join(ph, ", "), args
}

func marshalQuality(q *Quality) (any, error) {
	if q == nil {
		return nil, nil
	}
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
