package pricing

import (
	"context"
	"log/slog"

	"whatsapp-calling/pkg/logger"
)

// Service gates tier features. A failing source denies the feature.
type Service struct {
	src TierSource
	log *slog.Logger
}

func NewService(src TierSource, log *slog.Logger) *Service {
	return &Service{src: src, log: logger.Component(log, "pricing")}
}

func (s *Service) CurrentPlan(ctx context.Context) Plan {
	t, err := s.src.CurrentTier(ctx)
	if err != nil {
		s.log.Warn("tier lookup failed; features gated off", "err", err)
		return PlanFor(TierBasic)
	}
	return PlanFor(t)
}

func (s *Service) RecordingEnabled(ctx context.Context) bool {
	return s.CurrentPlan(ctx).Recording
}

func (s *Service) TranscriptionEnabled(ctx context.Context) bool {
	return s.CurrentPlan(ctx).Transcription
}
