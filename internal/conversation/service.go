package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"
)

type ServiceOptions struct {
	HistoryLimit  int
	InactiveAfter time.Duration
}

type Service struct {
	store Store
	lock  utils.KeyLocker
	opts  ServiceOptions
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, lock utils.KeyLocker, opts ServiceOptions, log *slog.Logger) *Service {
	if lock == nil {
		lock = utils.NewKeyMutex()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.InactiveAfter <= 0 {
		opts.InactiveAfter = 24 * time.Hour
	}
	return &Service{store: store, lock: lock, opts: opts, log: logger.Component(log, "conversation"), now: time.Now}
}

func (s *Service) HistoryLimit() int { return s.opts.HistoryLimit }

// GetOrCreate returns the active state for phone, creating one when none
// exists. Concurrent callers for the same phone get the same state.
func (s *Service) GetOrCreate(ctx context.Context, phone string) (State, error) {
	unlock, err := s.lock.Lock(ctx, "conv:"+phone)
	if err != nil {
		return State{}, err
	}
	defer unlock()

	st, err := s.store.GetActive(ctx, phone)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return State{}, err
	}

	st = NewState(phone, s.now())
	if err := s.store.Create(ctx, st); err != nil {
		if errors.Is(err, ErrActiveExists) {
			// Another process won the race.
			return s.store.GetActive(ctx, phone)
		}
		return State{}, err
	}
	s.log.Info("conversation started", "conversation_id", st.ConversationID, "phone", phone)
	return st, nil
}

// Record appends an exchange, sets the intent and applies the score delta.
func (s *Service) Record(ctx context.Context, st State, ex Exchange, delta int) (State, error) {
	now := s.now()
	if ex.At.IsZero() {
		ex.At = now
	}
	st.AppendExchange(ex, s.opts.HistoryLimit)
	st.CurrentIntent = ex.Intent
	st.ApplyScoreDelta(delta)
	st.LastInteraction = now
	st.UpdatedAt = now
	if err := s.store.Save(ctx, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Active returns the active state for phone without creating one.
func (s *Service) Active(ctx context.Context, phone string) (State, error) {
	return s.store.GetActive(ctx, phone)
}

func (s *Service) Get(ctx context.Context, conversationID string) (State, error) {
	return s.store.Get(ctx, conversationID)
}

func (s *Service) Escalate(ctx context.Context, conversationID, reason, assignee string) (bool, error) {
	return s.store.Escalate(ctx, conversationID, reason, assignee, s.now())
}

// Reactivate is the explicit way back from escalation.
func (s *Service) Reactivate(ctx context.Context, conversationID string) (State, error) {
	st, err := s.store.Reactivate(ctx, conversationID, s.now())
	if err != nil {
		return State{}, err
	}
	s.log.Info("conversation reactivated", "conversation_id", conversationID)
	return st, nil
}

// DeactivateIdle deactivates states idle longer than the configured window.
func (s *Service) DeactivateIdle(ctx context.Context) (int, error) {
	return s.store.DeactivateIdle(ctx, s.now().Add(-s.opts.InactiveAfter))
}

// RunSweeper calls DeactivateIdle every interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.DeactivateIdle(ctx)
			if err != nil {
				s.log.Error("inactivity sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("conversations deactivated", "count", n)
			}
		}
	}
}
