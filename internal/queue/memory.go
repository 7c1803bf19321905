package queue

import (
	"context"
	"sync"
)

// MemoryBackend is a buffered channel. Tasks are lost on restart.
type MemoryBackend struct {
	ch        chan Task
	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryBackend(size int) *MemoryBackend {
	if size <= 0 {
		size = 1024
	}
	return &MemoryBackend{ch: make(chan Task, size), closed: make(chan struct{})}
}

func (m *MemoryBackend) Push(ctx context.Context, t Task) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- t:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryBackend) Pop(ctx context.Context) (*Delivery, error) {
	select {
	case t := <-m.ch:
		return &Delivery{Task: t}, nil
	case <-m.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MemoryBackend) Len() int { return len(m.ch) }

func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
