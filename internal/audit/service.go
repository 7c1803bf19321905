package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"whatsapp-calling/internal/calls"
	"whatsapp-calling/pkg/logger"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Callers treat it as best-effort:
// the Log* helpers swallow repository errors after logging them.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, clock: time.Now, log: logger.Component(log, "audit")}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) bestEffort(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}

func metadata(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// CallTransitioned records every persisted call status change.
func (s *Service) CallTransitioned(ctx context.Context, from calls.Status, c calls.Session, ev calls.EventType) {
	e := Event{
		Type:      EventTypeCallTransition,
		Actor:     c.Agent,
		CallID:    c.CallID,
		SessionID: c.SessionID,
		Phone:     c.ToNumber,
		Message:   string(from) + " -> " + string(c.Status),
		Metadata:  metadata(map[string]any{"event": ev}),
	}
	if c.Status == calls.StatusFailed {
		e.Type = EventTypeCallFailed
		e.Message = c.FailureReason
	}
	s.bestEffort(ctx, e)
}

func (s *Service) GatewayFailed(ctx context.Context, op string, err error) {
	s.bestEffort(ctx, Event{
		Type:     EventTypeGatewayError,
		Actor:    "gateway",
		Message:  err.Error(),
		Metadata: metadata(map[string]any{"op": op}),
	})
}

// LogEscalation records a conversation handed to a human.
func (s *Service) LogEscalation(ctx context.Context, conversationID, phone, reason, assignee string) {
	s.bestEffort(ctx, Event{
		Type:           EventTypeBotEscalation,
		Actor:          "bot",
		ConversationID: conversationID,
		Phone:          phone,
		Message:        reason,
		Metadata:       metadata(map[string]any{"assigned_to": assignee}),
	})
}

func (s *Service) LogReactivation(ctx context.Context, actor, conversationID, phone string) {
	s.bestEffort(ctx, Event{
		Type:           EventTypeReactivation,
		Actor:          actor,
		ConversationID: conversationID,
		Phone:          phone,
		Message:        "conversation handed back to bot",
	})
}

func (s *Service) LogWebhookRejected(ctx context.Context, source, reason, remoteIP string) {
	s.bestEffort(ctx, Event{
		Type:     EventTypeWebhookRejected,
		Actor:    source,
		Message:  reason,
		Metadata: metadata(map[string]any{"ip": remoteIP}),
	})
}
