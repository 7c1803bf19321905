package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session // call_id -> session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Session{}}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.CallID]; ok {
		return ErrDuplicateSession
	}
	if m.liveSessionTaken(s.SessionID, s.CallID) {
		return ErrDuplicateSession
	}
	m.rows[s.CallID] = s
	return nil
}

func (m *MemoryStore) liveSessionTaken(sessionID, exceptCallID string) bool {
	for id, r := range m.rows {
		if id != exceptCallID && r.SessionID == sessionID && !r.Status.Terminal() {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		found Session
		ok    bool
	)
	// Prefer the live row; otherwise the newest one.
	for _, r := range m.rows {
		if r.SessionID != sessionID {
			continue
		}
		if !ok || (!r.Status.Terminal() && found.Status.Terminal()) ||
			(r.Status.Terminal() == found.Status.Terminal() && r.CreatedAt.After(found.CreatedAt)) {
			found, ok = r, true
		}
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) GetByCallID(ctx context.Context, callID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Update(ctx context.Context, s Session, expected ...Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.CallID]
	if !ok {
		return ErrNotFound
	}
	if !statusIn(cur.Status, expected) {
		return ErrConflict
	}
	if !s.Status.Terminal() && s.SessionID != cur.SessionID && m.liveSessionTaken(s.SessionID, s.CallID) {
		return ErrDuplicateSession
	}
	m.rows[s.CallID] = s
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for _, r := range m.rows {
		if statusIn(r.Status, statuses) {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for _, r := range m.rows {
		if r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sortByCreated(out)
	return out, nil
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func sortByCreated(rows []Session) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
}
