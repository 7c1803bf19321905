package pricing

import (
	"context"
	"errors"
	"testing"

	"whatsapp-calling/internal/crm"
)

func TestPlanFor_GatesByTier(t *testing.T) {
	for tier, want := range map[Tier]bool{
		TierBasic:        false,
		TierStandard:     false,
		TierProfessional: true,
		TierEnterprise:   true,
		Tier("Gold"):     false,
	} {
		p := PlanFor(tier)
		if p.Recording != want || p.Transcription != want {
			t.Fatalf("%s: expected recording/transcription %v, got %+v", tier, want, p)
		}
	}
}

func TestParseTier(t *testing.T) {
	if tier, ok := ParseTier(" enterprise "); !ok || tier != TierEnterprise {
		t.Fatalf("expected Enterprise, got %q %v", tier, ok)
	}
	if _, ok := ParseTier("platinum"); ok {
		t.Fatalf("expected unknown tier")
	}
}

func TestCRMTierSource_ReadsEveryTime(t *testing.T) {
	ctx := context.Background()
	store := crm.NewMemoryStore()
	src := NewCRMTierSource(store, "+10000000000", TierStandard, nil)
	svc := NewService(src, nil)

	if svc.RecordingEnabled(ctx) {
		t.Fatalf("fallback Standard must not record")
	}

	acct, err := store.Create(ctx, crm.KindBusinessAccount, crm.Fields{"phone_number": "+10000000000", "tier": "Professional"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !svc.RecordingEnabled(ctx) || !svc.TranscriptionEnabled(ctx) {
		t.Fatalf("Professional must record and transcribe")
	}

	if _, err := store.Update(ctx, crm.KindBusinessAccount, acct.Name, crm.Fields{"tier": "Basic"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if svc.RecordingEnabled(ctx) {
		t.Fatalf("downgrade must apply immediately")
	}
}

type failingSource struct{}

func (failingSource) CurrentTier(context.Context) (Tier, error) { return "", errors.New("crm down") }

func TestService_SourceErrorDeniesFeatures(t *testing.T) {
	svc := NewService(failingSource{}, nil)
	if svc.RecordingEnabled(context.Background()) {
		t.Fatalf("expected recording denied")
	}
}
