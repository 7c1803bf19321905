package conversation

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]State{}}
}

func (m *MemoryStore) GetActive(ctx context.Context, phone string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.activeFor(phone, ""); ok {
		return cloneState(s), nil
	}
	return State{}, ErrNotFound
}

func (m *MemoryStore) activeFor(phone, except string) (State, bool) {
	for id, s := range m.rows {
		if id != except && s.PhoneNumber == phone && s.IsActive {
			return s, true
		}
	}
	return State{}, false
}

func (m *MemoryStore) Get(ctx context.Context, conversationID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[conversationID]
	if !ok {
		return State{}, ErrNotFound
	}
	return cloneState(s), nil
}

func (m *MemoryStore) Create(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ConversationID]; ok {
		return ErrActiveExists
	}
	if s.IsActive {
		if _, ok := m.activeFor(s.PhoneNumber, ""); ok {
			return ErrActiveExists
		}
	}
	m.rows[s.ConversationID] = cloneState(s)
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ConversationID]; !ok {
		return ErrNotFound
	}
	m.rows[s.ConversationID] = cloneState(s)
	return nil
}

func (m *MemoryStore) Escalate(ctx context.Context, conversationID, reason, assignee string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	if s.IsEscalated {
		return false, nil
	}
	t := at
	s.IsEscalated = true
	s.EscalatedAt = &t
	s.EscalatedReason = reason
	s.AssignedTo = assignee
	s.UpdatedAt = at
	m.rows[conversationID] = s
	return true, nil
}

func (m *MemoryStore) Reactivate(ctx context.Context, conversationID string, at time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[conversationID]
	if !ok {
		return State{}, ErrNotFound
	}
	if !s.IsActive {
		if _, taken := m.activeFor(s.PhoneNumber, conversationID); taken {
			return State{}, ErrActiveExists
		}
	}
	s.IsActive = true
	s.IsEscalated = false
	s.EscalatedAt = nil
	s.EscalatedReason = ""
	s.LastInteraction = at
	s.UpdatedAt = at
	m.rows[conversationID] = s
	return cloneState(s), nil
}

func (m *MemoryStore) DeactivateIdle(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.rows {
		if s.IsActive && s.LastInteraction.Before(before) {
			s.IsActive = false
			m.rows[id] = s
			n++
		}
	}
	return n, nil
}

func cloneState(s State) State {
	s.Context.History = append([]Exchange(nil), s.Context.History...)
	return s
}
