package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"whatsapp-calling/pkg/logger"
)

type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Outcomes reported to a TaskObserver.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomePanic     = "panic"
	OutcomeUnhandled = "unhandled"
)

type TaskObserver interface {
	ObserveTask(task, outcome string, d time.Duration)
}

// Worker consumes tasks from a backend and dispatches them by name.
type Worker struct {
	backend  Backend
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	workers  int
	timeout  time.Duration
	obs      TaskObserver
	log      *slog.Logger
}

type WorkerOptions struct {
	Concurrency int
	// TaskTimeout bounds a single handler run.
	TaskTimeout time.Duration
	Observer    TaskObserver
}

func NewWorker(b Backend, opts WorkerOptions, log *slog.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	return &Worker{
		backend:  b,
		handlers: map[string]HandlerFunc{},
		workers:  opts.Concurrency,
		timeout:  opts.TaskTimeout,
		obs:      opts.Observer,
		log:      logger.Component(log, "worker"),
	}
}

func (w *Worker) Handle(task string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[task] = h
}

// Run blocks until ctx ends or the backend closes.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error { return w.loop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		d, err := w.backend.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			w.log.Error("queue pop failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.Process(ctx, d)
	}
}

// Process runs one delivery to completion and acks it.
func (w *Worker) Process(ctx context.Context, d *Delivery) {
	start := time.Now()
	outcome := OutcomeOK
	err := w.dispatch(ctx, d.Task)
	switch {
	case errors.Is(err, ErrNoHandler):
		outcome = OutcomeUnhandled
	case errors.Is(err, errPanic):
		outcome = OutcomePanic
	case err != nil:
		outcome = OutcomeFailed
	}
	if err != nil {
		w.log.Error("task failed", "task", d.Task.Name, "err", err)
	}
	if derr := d.Done(err == nil); derr != nil {
		w.log.Warn("task ack failed", "task", d.Task.Name, "err", derr)
	}
	if w.obs != nil {
		w.obs.ObserveTask(d.Task.Name, outcome, time.Since(start))
	}
}

var errPanic = errors.New("queue: handler panicked")

func (w *Worker) dispatch(ctx context.Context, t Task) (err error) {
	w.mu.RLock()
	h, ok := w.handlers[t.Name]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	tctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return h(tctx, t.Payload)
}
