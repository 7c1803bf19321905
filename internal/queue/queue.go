package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Task names used across the service.
const (
	TaskProcessWebhook     = "whatsapp.process_webhook"
	TaskBotProcessMessage  = "bot.process_message"
	TaskBotNotifySales     = "bot.notify_sales"
	TaskGenerateTranscript = "calls.generate_transcript"
)

var (
	ErrClosed    = errors.New("queue: closed")
	ErrNoHandler = errors.New("queue: no handler registered")
	ErrEmptyTask = errors.New("queue: task name is required")
)

// Task is the envelope every backend stores.
type Task struct {
	Name       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Delivery is a task handed to a worker. Done must be called once.
type Delivery struct {
	Task Task
	done func(ok bool) error
}

func (d *Delivery) Done(ok bool) error {
	if d.done == nil {
		return nil
	}
	return d.done(ok)
}

// Backend moves task envelopes between producers and workers.
type Backend interface {
	Push(ctx context.Context, t Task) error
	// Pop blocks until a task arrives or ctx ends.
	Pop(ctx context.Context) (*Delivery, error)
	Close() error
}

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// Queue encodes payloads and pushes them to a backend.
type Queue struct {
	backend Backend
	now     func() time.Time
}

func New(b Backend) *Queue {
	return &Queue{backend: b, now: time.Now}
}

func (q *Queue) Backend() Backend { return q.backend }

func (q *Queue) Enqueue(ctx context.Context, task string, payload any) error {
	if task == "" {
		return ErrEmptyTask
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode %s payload: %w", task, err)
	}
	return q.backend.Push(ctx, Task{Name: task, Payload: raw, EnqueuedAt: q.now().UTC()})
}
