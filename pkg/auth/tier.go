package auth

import "strings"

// Tier is a subscription level.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"

	// tierPremium is the legacy label for TierPro.
	tierPremium = "PREMIUM"
)

// NormalizeTier maps a backend tier label onto a known Tier.
// Matching is case-insensitive; PREMIUM is an alias of PRO. Anything
// unrecognised is FREE.
func NormalizeTier(label string) Tier {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case string(TierPro), tierPremium:
		return TierPro
	default:
		return TierFree
	}
}

func (t Tier) String() string {
	return string(t)
}
