package crm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Record // kind + "/" + name
	seq  []string
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Record{}, now: time.Now}
}

func key(kind, name string) string { return kind + "/" + name }

func (m *MemoryStore) Create(ctx context.Context, kind string, fields Fields) (Record, error) {
	if kind == "" {
		return Record{}, fmt.Errorf("%w: kind is required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r := Record{Kind: kind, Name: newName(kind), Fields: fields.clone(), CreatedAt: now, UpdatedAt: now}
	k := key(kind, r.Name)
	m.rows[k] = r
	m.seq = append(m.seq, k)
	return copyRecord(r), nil
}

func (m *MemoryStore) Get(ctx context.Context, kind, name string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key(kind, name)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) Update(ctx context.Context, kind, name string, fields Fields) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(kind, name)
	r, ok := m.rows[k]
	if !ok {
		return Record{}, ErrNotFound
	}
	merged := r.Fields.clone()
	for f, v := range fields {
		merged[f] = v
	}
	r.Fields = merged
	r.UpdatedAt = m.now()
	m.rows[k] = r
	return copyRecord(r), nil
}

func (m *MemoryStore) FindOne(ctx context.Context, kind, field string, values ...string) (Record, error) {
	if !IndexedFields[field] {
		return Record{}, fmt.Errorf("%w: field %q is not searchable", ErrInvalid, field)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.seq {
		r := m.rows[k]
		if r.Kind != kind {
			continue
		}
		got := r.Fields.String(field)
		for _, v := range values {
			if v != "" && got == v {
				return copyRecord(r), nil
			}
		}
	}
	return Record{}, ErrNotFound
}

func copyRecord(r Record) Record {
	r.Fields = r.Fields.clone()
	return r
}
