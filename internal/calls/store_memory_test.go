package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := newSession(StatusInitiated)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	s.Status = StatusRinging
	if err := st.Update(ctx, s, StatusInitiated); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A writer still believing the call is Initiated loses.
	stale := s
	stale.Status = StatusFailed
	if err := st.Update(ctx, stale, StatusInitiated); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	missing := newSession(StatusRinging)
	missing.CallID = "NOPE"
	if err := st.Update(ctx, missing, StatusRinging); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_LiveSessionIDIsUnique(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	a := newSession(StatusRinging)
	if err := st.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := newSession(StatusInitiated)
	b.CallID = "OTHER00001"
	if err := st.Create(ctx, b); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}

	// Once the first call is over the id can be reused, and Get prefers the live row.
	a.Status = StatusEnded
	if err := st.Update(ctx, a, StatusRinging); err != nil {
		t.Fatalf("end: %v", err)
	}
	b.CreatedAt = t0.Add(-time.Hour)
	if err := st.Create(ctx, b); err != nil {
		t.Fatalf("create after end: %v", err)
	}
	got, err := st.Get(ctx, "local-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CallID != b.CallID {
		t.Fatalf("expected live call %s, got %s", b.CallID, got.CallID)
	}
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	for i, status := range []Status{StatusRinging, StatusConnected, StatusEnded} {
		s := newSession(status)
		s.CallID = string(rune('A'+i)) + "000000000"
		s.SessionID = s.CallID
		s.CreatedAt = t0.Add(time.Duration(i) * time.Hour)
		if err := st.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	live, err := st.ListByStatus(ctx, StatusRinging, StatusConnected)
	if err != nil || len(live) != 2 {
		t.Fatalf("expected 2 live calls, got %d (%v)", len(live), err)
	}
	window, err := st.ListCreatedBetween(ctx, t0.Add(30*time.Minute), t0.Add(2*time.Hour))
	if err != nil || len(window) != 1 || window[0].Status != StatusConnected {
		t.Fatalf("unexpected window result %+v (%v)", window, err)
	}
	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
