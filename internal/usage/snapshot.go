package usage

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"

	pkgauth "notebroker/pkg/auth"
)

// Counters are the operations used in the current windows.
type Counters struct {
	ExtractionsThisWeek int `json:"extractionsThisWeek"`
	ConversionsThisWeek int `json:"conversionsThisWeek"`
	ScoringThisMonth    int `json:"scoringThisMonth"`
}

// For returns the counter that applies to op.
func (c Counters) For(op Operation) int {
	switch op {
	case OpExtraction:
		return c.ExtractionsThisWeek
	case OpConversion:
		return c.ConversionsThisWeek
	case OpScoring:
		return c.ScoringThisMonth
	}
	return 0
}

// Snapshot is the usage state as last reported by the backend.
type Snapshot struct {
	Tier          pkgauth.Tier  `json:"tier"`
	Limits        TierLimits    `json:"limits"`
	Usage         Counters      `json:"usage"`
	WeekResetsAt  time.Time     `json:"weekResetsAt"`
	MonthResetsAt time.Time     `json:"monthResetsAt"`
	CachedAt      time.Time     `json:"cachedAt"`
	TTL           time.Duration `json:"ttl"`

	// Fallback marks the conservative default used when the backend could
	// not be reached.
	Fallback bool `json:"fallback,omitempty"`
}

// Fresh reports whether the snapshot may still be used at now.
func (s *Snapshot) Fresh(now time.Time) bool {
	return s != nil && now.Before(s.CachedAt.Add(s.TTL))
}

// ResetsAt returns when op's window resets.
func (s *Snapshot) ResetsAt(op Operation) time.Time {
	if op.Window() == Monthly {
		return s.MonthResetsAt
	}
	return s.WeekResetsAt
}

// DefaultSnapshot is the deny-leaning substitute for an unreachable backend:
// FREE limits, zero usage.
func DefaultSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Tier:          pkgauth.TierFree,
		Limits:        LimitsFor(pkgauth.TierFree),
		WeekResetsAt:  NextWeeklyReset(now),
		MonthResetsAt: NextMonthlyReset(now),
		CachedAt:      now,
		Fallback:      true,
	}
}

// ParseSnapshot reads a usage document. Field names vary between backend
// versions, so each value is looked up through a list of aliases.
func ParseSnapshot(body []byte, now time.Time) (*Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("usage response is not valid JSON")
	}

	tier := pkgauth.NormalizeTier(firstString(body, "tier", "subscription.tier", "subscription", "user.subscription"))
	s := &Snapshot{
		Tier:          tier,
		Limits:        LimitsFor(tier),
		WeekResetsAt:  firstTime(body, NextWeeklyReset(now), "weekResetsAt", "usage.weekResetsAt", "resets.week"),
		MonthResetsAt: firstTime(body, NextMonthlyReset(now), "monthResetsAt", "usage.monthResetsAt", "resets.month"),
		CachedAt:      now,
	}

	for _, op := range Operations {
		field := op.counterField()
		n := firstInt(body, 0, "usage."+field, field)
		switch op {
		case OpExtraction:
			s.Usage.ExtractionsThisWeek = n
		case OpConversion:
			s.Usage.ConversionsThisWeek = n
		case OpScoring:
			s.Usage.ScoringThisMonth = n
		}

		lf := op.limitField()
		limit := firstInt(body, s.Limits.For(op), "limits."+lf, "usage.limits."+lf)
		switch op {
		case OpExtraction:
			s.Limits.ExtractionsPerWeek = limit
		case OpConversion:
			s.Limits.ConversionsPerWeek = limit
		case OpScoring:
			s.Limits.ScoringPerMonth = limit
		}
	}
	return s, nil
}

func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func firstInt(body []byte, def int, paths ...string) int {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if r.Exists() && r.Type == gjson.Number {
			return int(r.Int())
		}
	}
	return def
}

func firstTime(body []byte, def time.Time, paths ...string) time.Time {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if !r.Exists() || r.Type != gjson.String {
			continue
		}
		if t, err := time.Parse(time.RFC3339, r.String()); err == nil {
			return t.UTC()
		}
	}
	return def
}
