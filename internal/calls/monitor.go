package calls

import (
	"context"
	"log/slog"
	"time"

	"whatsapp-calling/pkg/logger"
)

// QualityObserver receives every computed quality score.
type QualityObserver interface {
	ObserveQuality(gateway string, score float64)
}

// Monitor polls the gateway for live-session quality and feeds the samples
// back through the manager as quality_update events.
type Monitor struct {
	mgr      *Manager
	interval time.Duration
	obs      QualityObserver
	log      *slog.Logger
}

func NewMonitor(mgr *Manager, interval time.Duration, obs QualityObserver, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{mgr: mgr, interval: interval, obs: obs, log: logger.Component(log, "quality_monitor")}
}

func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.log.Error("quality sweep failed", "err", err)
			} else if n > 0 {
				m.log.Debug("quality sweep", "updated", n)
			}
		}
	}
}

// Sweep samples every Ringing or Connected session once and returns how many
// sessions received a new snapshot. One failing session does not stop the sweep.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	live, err := m.mgr.Store.ListByStatus(ctx, StatusRinging, StatusConnected)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, s := range live {
		if ctx.Err() != nil {
			break
		}
		sample, err := m.mgr.Gateway.GetQuality(ctx, s.SessionID)
		if err != nil {
			m.mgr.gatewayFailed(ctx, "get_quality", err)
			m.log.Warn("quality fetch failed", "session_id", s.SessionID, "err", err)
			continue
		}
		if sample.Empty() {
			continue
		}
		if err := m.mgr.HandleEvent(ctx, Event{SessionID: s.SessionID, Type: EventQuality, Quality: sample}); err != nil {
			m.log.Warn("quality update failed", "session_id", s.SessionID, "err", err)
			continue
		}
		if m.obs != nil {
			m.obs.ObserveQuality(m.mgr.Gateway.Name(), QualityScore(sample))
		}
		updated++
	}
	return updated, nil
}
