package pricing

import (
	"context"
	"errors"
	"log/slog"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/pkg/logger"
)

// TierSource answers the account tier at the moment it is asked.
type TierSource interface {
	CurrentTier(ctx context.Context) (Tier, error)
}

// StaticTier always reports the same tier.
type StaticTier Tier

func (s StaticTier) CurrentTier(context.Context) (Tier, error) { return Tier(s), nil }

// CRMTierSource reads the "WhatsApp Business Account" record on every call,
// so a tier change applies to the next gate check.
type CRMTierSource struct {
	store          crm.Store
	businessNumber string
	fallback       Tier
	log            *slog.Logger
}

func NewCRMTierSource(store crm.Store, businessNumber string, fallback Tier, log *slog.Logger) *CRMTierSource {
	if fallback == "" {
		fallback = TierBasic
	}
	return &CRMTierSource{store: store, businessNumber: businessNumber, fallback: fallback, log: logger.Component(log, "pricing")}
}

func (s *CRMTierSource) CurrentTier(ctx context.Context) (Tier, error) {
	r, err := s.store.FindOne(ctx, crm.KindBusinessAccount, "phone_number", s.businessNumber)
	if errors.Is(err, crm.ErrNotFound) {
		return s.fallback, nil
	}
	if err != nil {
		return s.fallback, err
	}
	t, ok := ParseTier(r.Fields.String("tier"))
	if !ok {
		return s.fallback, nil
	}
	return t, nil
}
