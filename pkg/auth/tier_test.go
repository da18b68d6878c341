package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTier(t *testing.T) {
	tests := map[string]Tier{
		"PRO":     TierPro,
		"pro":     TierPro,
		"PREMIUM": TierPro,
		"Premium": TierPro,
		" free ":  TierFree,
		"FREE":    TierFree,
		"":        TierFree,
		"gold":    TierFree,
	}

	for in, want := range tests {
		assert.Equal(t, want, NormalizeTier(in), "label %q", in)
	}
}
