package calls

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var sessionColumnNames = []string{
	"call_id", "session_id", "from_number", "to_number", "direction", "agent", "lead_id", "status",
	"start_time", "end_time", "duration_seconds", "recording_url", "quality", "end_reason", "failure_reason",
	"created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_CreateMapsUniqueViolation(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_sessions")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	if err := st.Create(context.Background(), newSession(StatusInitiated)); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_GetDecodesRow(t *testing.T) {
	st, mock := newMockStore(t)
	rows := sqlmock.NewRows(sessionColumnNames).AddRow(
		"ABCDEF0123", "gw-1", "+1000", "+15550001", "Outgoing", "agent@example.com", "LEAD-1", "Connected",
		t0, nil, 0, "https://rec/1.mp3", `{"mos_score":4,"packet_loss":2,"latency":60,"jitter":5,"score":79.5}`, "", "",
		t0, t0,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1")).WithArgs("gw-1").WillReturnRows(rows)

	s, err := st.Get(context.Background(), "gw-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Status != StatusConnected || s.StartTime == nil || s.EndTime != nil {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Quality == nil || s.Quality.Score != 79.5 {
		t.Fatalf("quality not decoded: %+v", s.Quality)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1")).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_UpdateConflict(t *testing.T) {
	st, mock := newMockStore(t)
	s := newSession(StatusEnded)

	mock.ExpectExec(regexp.QuoteMeta("WHERE call_id = $1 AND status IN ($12, $13)")).
		WithArgs(s.CallID, s.SessionID, "Ended", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, "", nil, "", "", s.UpdatedAt, "Ringing", "Connected").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE call_id = $1")).WithArgs(s.CallID).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).AddRow(
			s.CallID, s.SessionID, "", s.ToNumber, "Outgoing", s.Agent, "", "Failed",
			nil, t0, 0, "", nil, "", "gateway down", t0, t0,
		))

	if err := st.Update(context.Background(), s, StatusRinging, StatusConnected); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStore_UpdateMissingRow(t *testing.T) {
	st, mock := newMockStore(t)
	s := newSession(StatusRinging)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE call_sessions")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE call_id = $1")).WithArgs(s.CallID).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames))

	if err := st.Update(context.Background(), s, StatusInitiated); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ListByStatus(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($1, $2)")).WithArgs("Ringing", "Connected").
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).
			AddRow("A", "s-a", "", "+1", "Outgoing", "ag", "", "Ringing", nil, nil, 0, "", nil, "", "", t0, t0).
			AddRow("B", "s-b", "", "+2", "Outgoing", "ag", "", "Connected", t0, nil, 0, "", nil, "", "", t0, t0))

	out, err := st.ListByStatus(context.Background(), StatusRinging, StatusConnected)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[1].StartTime == nil {
		t.Fatalf("unexpected rows %+v", out)
	}
}
