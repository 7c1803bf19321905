package pricing

import "strings"

// Tier is the WhatsApp Business account plan.
type Tier string

const (
	TierBasic        Tier = "Basic"
	TierStandard     Tier = "Standard"
	TierProfessional Tier = "Professional"
	TierEnterprise   Tier = "Enterprise"
)

// Plan lists what a tier unlocks.
type Plan struct {
	Tier          Tier `json:"tier"`
	Recording     bool `json:"recording"`
	Transcription bool `json:"transcription"`
}

var plans = map[Tier]Plan{
	TierBasic:        {Tier: TierBasic},
	TierStandard:     {Tier: TierStandard},
	TierProfessional: {Tier: TierProfessional, Recording: true, Transcription: true},
	TierEnterprise:   {Tier: TierEnterprise, Recording: true, Transcription: true},
}

// ParseTier matches case-insensitively. ok is false for unknown names.
func ParseTier(s string) (Tier, bool) {
	s = strings.TrimSpace(s)
	for t := range plans {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// PlanFor returns the Basic plan for unknown tiers.
func PlanFor(t Tier) Plan {
	if p, ok := plans[t]; ok {
		return p
	}
	return plans[TierBasic]
}
