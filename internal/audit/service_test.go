package audit

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"whatsapp-calling/internal/calls"
)

var _ calls.Observer = (*Service)(nil)

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, e Event) error { return errors.New("disk full") }

func TestService_AppendRequiresType(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)

	if err := svc.Append(context.Background(), Event{CallID: "c"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_RecordsCallTransitions(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	s := calls.Session{CallID: "ABC", SessionID: "gw-1", Agent: "agent@x", ToNumber: "+1555", Status: calls.StatusConnected}
	svc.CallTransitioned(ctx, calls.StatusRinging, s, calls.EventAnswered)

	s.Status = calls.StatusFailed
	s.FailureReason = "gateway_timeout"
	svc.CallTransitioned(ctx, calls.StatusInitiated, s, calls.EventFailed)

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeCallTransition || evs[0].Message != "Ringing -> Connected" {
		t.Fatalf("unexpected transition event %+v", evs[0])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
	if evs[1].Type != EventTypeCallFailed || evs[1].Message != "gateway_timeout" {
		t.Fatalf("unexpected failure event %+v", evs[1])
	}
}

func TestService_SwallowsRepositoryErrors(t *testing.T) {
	svc := NewService(failingRepo{}, nil)
	svc.LogEscalation(context.Background(), "CONV-1", "+1555", "high_lead_score", "sales@x")
}

func TestPostgresRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs("id-1", "webhook_rejected", "whatsapp", "", "", "", "", "bad_signature", `{"ip":"1.2.3.4"}`, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := NewService(NewPostgresRepo(db), nil)
	svc.clock = func() time.Time { return at }
	if err := svc.Append(context.Background(), Event{
		ID: "id-1", Type: EventTypeWebhookRejected, Actor: "whatsapp", Message: "bad_signature", Metadata: `{"ip":"1.2.3.4"}`,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
