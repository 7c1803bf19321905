package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; a failed append never blocks a call or a conversation.
//
// Storage (Postgres):
//
//	CREATE TABLE audit_events (
//	  id              text PRIMARY KEY,
//	  type            text NOT NULL,
//	  actor           text NOT NULL DEFAULT '',
//	  call_id         text NOT NULL DEFAULT '',
//	  session_id      text NOT NULL DEFAULT '',
//	  conversation_id text NOT NULL DEFAULT '',
//	  phone           text NOT NULL DEFAULT '',
//	  message         text NOT NULL DEFAULT '',
//	  metadata        jsonb,
//	  created_at      timestamptz NOT NULL
//	);
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// Actor is the agent or system component causing the event.
	Actor string `json:"actor,omitempty" db:"actor"`

	CallID         string `json:"call_id,omitempty" db:"call_id"`
	SessionID      string `json:"session_id,omitempty" db:"session_id"`
	ConversationID string `json:"conversation_id,omitempty" db:"conversation_id"`
	Phone          string `json:"phone,omitempty" db:"phone"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallTransition  EventType = "call_transition"
	EventTypeCallFailed      EventType = "call_failed"
	EventTypeGatewayError    EventType = "gateway_error"
	EventTypeBotEscalation   EventType = "bot_escalation"
	EventTypeReactivation    EventType = "conversation_reactivated"
	EventTypeWebhookRejected EventType = "webhook_rejected"
)
