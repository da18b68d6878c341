package usage

import (
	"fmt"
	"strings"
	"time"

	pkgauth "notebroker/pkg/auth"
)

// Unlimited is the limit sentinel that always allows.
const Unlimited = -1

// Operation is a metered AI operation.
type Operation string

const (
	OpExtraction Operation = "extraction"
	OpConversion Operation = "conversion"
	OpScoring    Operation = "scoring"
)

// Operations lists every metered operation.
var Operations = []Operation{OpExtraction, OpConversion, OpScoring}

// Window is the period a counter accumulates over.
type Window int

const (
	Weekly Window = iota
	Monthly
)

func (w Window) String() string {
	if w == Monthly {
		return "month"
	}
	return "week"
}

// ParseOperation accepts the operation name, its plural, or the counter
// field name ("extractionsThisWeek").
func ParseOperation(s string) (Operation, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, op := range Operations {
		if v == string(op) || v == string(op)+"s" || v == strings.ToLower(op.counterField()) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q (want one of extraction, conversion, scoring)", s)
}

// Window returns the accounting window of op.
func (op Operation) Window() Window {
	if op == OpScoring {
		return Monthly
	}
	return Weekly
}

func (op Operation) plural() string {
	return string(op) + "s"
}

func (op Operation) counterField() string {
	switch op {
	case OpExtraction:
		return "extractionsThisWeek"
	case OpConversion:
		return "conversionsThisWeek"
	case OpScoring:
		return "scoringThisMonth"
	}
	return ""
}

func (op Operation) limitField() string {
	switch op {
	case OpExtraction:
		return "extractionsPerWeek"
	case OpConversion:
		return "conversionsPerWeek"
	case OpScoring:
		return "scoringPerMonth"
	}
	return ""
}

// TierLimits are the per-window allowances of a tier.
type TierLimits struct {
	ExtractionsPerWeek int `json:"extractionsPerWeek"`
	ConversionsPerWeek int `json:"conversionsPerWeek"`
	ScoringPerMonth    int `json:"scoringPerMonth"`
}

// For returns the limit that applies to op.
func (l TierLimits) For(op Operation) int {
	switch op {
	case OpExtraction:
		return l.ExtractionsPerWeek
	case OpConversion:
		return l.ConversionsPerWeek
	case OpScoring:
		return l.ScoringPerMonth
	}
	return Unlimited
}

var tierLimits = map[pkgauth.Tier]TierLimits{
	pkgauth.TierFree: {ExtractionsPerWeek: 3, ConversionsPerWeek: 3, ScoringPerMonth: 10},
	pkgauth.TierPro:  {ExtractionsPerWeek: Unlimited, ConversionsPerWeek: Unlimited, ScoringPerMonth: 300},
}

// LimitsFor returns the built-in limits of tier. Unknown tiers get FREE.
func LimitsFor(tier pkgauth.Tier) TierLimits {
	if l, ok := tierLimits[pkgauth.NormalizeTier(string(tier))]; ok {
		return l
	}
	return tierLimits[pkgauth.TierFree]
}

// NextWeeklyReset is the next Monday 00:00 UTC strictly after now.
func NextWeeklyReset(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := (8 - int(now.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return midnight.AddDate(0, 0, days)
}

// NextMonthlyReset is the first day of the next month, 00:00 UTC.
func NextMonthlyReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
