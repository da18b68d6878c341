package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgauth "notebroker/pkg/auth"
)

func TestParseSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTier  pkgauth.Tier
		wantUsage Counters
		wantLimit TierLimits
		wantWeek  time.Time
	}{
		{
			name:      "nested usage block",
			body:      `{"tier":"FREE","usage":{"extractionsThisWeek":2,"conversionsThisWeek":1,"scoringThisMonth":7}}`,
			wantTier:  pkgauth.TierFree,
			wantUsage: Counters{2, 1, 7},
			wantLimit: LimitsFor(pkgauth.TierFree),
			wantWeek:  NextWeeklyReset(wednesday),
		},
		{
			name:      "flat counters and subscription object",
			body:      `{"subscription":{"tier":"pro"},"extractionsThisWeek":40,"scoringThisMonth":12}`,
			wantTier:  pkgauth.TierPro,
			wantUsage: Counters{ExtractionsThisWeek: 40, ScoringThisMonth: 12},
			wantLimit: LimitsFor(pkgauth.TierPro),
			wantWeek:  NextWeeklyReset(wednesday),
		},
		{
			name:      "subscription string and server reset",
			body:      `{"subscription":"PREMIUM","weekResetsAt":"2025-03-09T00:00:00Z"}`,
			wantTier:  pkgauth.TierPro,
			wantLimit: LimitsFor(pkgauth.TierPro),
			wantWeek:  time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "server supplied limits win",
			body:      `{"tier":"FREE","limits":{"extractionsPerWeek":5,"scoringPerMonth":20}}`,
			wantTier:  pkgauth.TierFree,
			wantLimit: TierLimits{ExtractionsPerWeek: 5, ConversionsPerWeek: 3, ScoringPerMonth: 20},
			wantWeek:  NextWeeklyReset(wednesday),
		},
		{
			name:      "missing tier is FREE",
			body:      `{}`,
			wantTier:  pkgauth.TierFree,
			wantLimit: LimitsFor(pkgauth.TierFree),
			wantWeek:  NextWeeklyReset(wednesday),
		},
		{
			name:      "bad reset timestamp falls back to computed window",
			body:      `{"weekResetsAt":"next monday"}`,
			wantTier:  pkgauth.TierFree,
			wantLimit: LimitsFor(pkgauth.TierFree),
			wantWeek:  NextWeeklyReset(wednesday),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSnapshot([]byte(tt.body), wednesday)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, s.Tier)
			assert.Equal(t, tt.wantUsage, s.Usage)
			assert.Equal(t, tt.wantLimit, s.Limits)
			assert.Equal(t, tt.wantWeek, s.WeekResetsAt)
			assert.Equal(t, NextMonthlyReset(wednesday), s.MonthResetsAt)
			assert.False(t, s.Fallback)
		})
	}
}

func TestParseSnapshot_InvalidJSON(t *testing.T) {
	_, err := ParseSnapshot([]byte(`<html>oops</html>`), wednesday)
	assert.Error(t, err)
}

func TestSnapshot_Fresh(t *testing.T) {
	s := &Snapshot{CachedAt: wednesday, TTL: time.Minute}
	assert.True(t, s.Fresh(wednesday))
	assert.True(t, s.Fresh(wednesday.Add(59*time.Second)))
	assert.False(t, s.Fresh(wednesday.Add(time.Minute)))

	var missing *Snapshot
	assert.False(t, missing.Fresh(wednesday))
}

func TestDefaultSnapshot(t *testing.T) {
	s := DefaultSnapshot(wednesday)
	assert.True(t, s.Fallback)
	assert.Equal(t, pkgauth.TierFree, s.Tier)
	assert.Equal(t, Counters{}, s.Usage)
	assert.False(t, s.Fresh(wednesday), "the fallback is never cached")
}
