package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("calls: session not found")
	// ErrConflict means the row was not in the expected status; someone else moved it.
	ErrConflict = errors.New("calls: session status changed concurrently")
	// ErrDuplicateSession means a live session already uses the session id.
	ErrDuplicateSession = errors.New("calls: session id already in use")
)

// Store persists call sessions. Updates are conditional on the current status
// so a stale writer can never move a session backwards.
type Store interface {
	Create(ctx context.Context, s Session) error
	// Get finds a session by its (current) session id.
	Get(ctx context.Context, sessionID string) (Session, error)
	GetByCallID(ctx context.Context, callID string) (Session, error)
	// Update writes s keyed by call id only if the stored status is one of expected.
	Update(ctx context.Context, s Session, expected ...Status) error
	ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Session, error)
}
