package conversation

import (
	"context"
	"time"
)

// Store persists conversation states.
type Store interface {
	// GetActive returns the active state for phone or ErrNotFound.
	GetActive(ctx context.Context, phone string) (State, error)
	Get(ctx context.Context, conversationID string) (State, error)
	// Create fails with ErrActiveExists if phone already has an active state.
	Create(ctx context.Context, s State) error
	Save(ctx context.Context, s State) error
	// Escalate marks the state escalated only if it is not already.
	// It reports whether this call did the escalation.
	Escalate(ctx context.Context, conversationID, reason, assignee string, at time.Time) (bool, error)
	// Reactivate clears the escalation and makes the state active again.
	Reactivate(ctx context.Context, conversationID string, at time.Time) (State, error)
	// DeactivateIdle deactivates active states idle since before and returns how many.
	DeactivateIdle(ctx context.Context, before time.Time) (int, error)
}
