package usage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	pkgauth "notebroker/pkg/auth"
)

const (
	utmSource = "notebroker"
	utmMedium = "mcp"

	// userRefLen is the number of hex characters of the hashed user ID put
	// into upgrade links.
	userRefLen = 12
)

// Decision is the outcome of a usage check. It is computed per call and
// never cached.
type Decision struct {
	Operation  Operation    `json:"operation"`
	Tier       pkgauth.Tier `json:"tier"`
	Allowed    bool         `json:"allowed"`
	Current    int          `json:"current"`
	Limit      int          `json:"limit"`
	Remaining  int          `json:"remaining"`
	Unlimited  bool         `json:"unlimited"`
	ResetsAt   time.Time    `json:"resetsAt"`
	UpgradeURL string       `json:"upgradeURL,omitempty"`
	Message    string       `json:"message,omitempty"`
	Warning    bool         `json:"warning"`
}

// EvalOptions carries the inputs of a decision that do not come from the
// snapshot.
type EvalOptions struct {
	UpgradeBaseURL   string
	UserID           string
	WarningThreshold float64
}

// Evaluate decides whether op may run under snap. It has no side effects.
func Evaluate(snap *Snapshot, op Operation, opts EvalOptions) Decision {
	d := Decision{
		Operation: op,
		Tier:      snap.Tier,
		Current:   snap.Usage.For(op),
		Limit:     snap.Limits.For(op),
		ResetsAt:  snap.ResetsAt(op),
	}

	if d.Limit == Unlimited {
		d.Allowed = true
		d.Unlimited = true
		d.Remaining = Unlimited
		return d
	}

	d.Allowed = d.Current < d.Limit
	d.Remaining = max(0, d.Limit-d.Current)

	if snap.Tier != pkgauth.TierPro {
		d.UpgradeURL = UpgradeURL(opts.UpgradeBaseURL, op, snap.Tier, opts.UserID)
	}

	switch {
	case !d.Allowed:
		d.Message = denialMessage(d)
	case float64(d.Remaining) <= opts.WarningThreshold*float64(d.Limit):
		d.Warning = true
		d.Message = warningMessage(d)
	}
	return d
}

// UpgradeURL builds the tracked upgrade link for a limit on op.
func UpgradeURL(base string, op Operation, current pkgauth.Tier, userID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("utm_source", utmSource)
	q.Set("utm_medium", utmMedium)
	q.Set("utm_campaign", string(op)+"_limit")
	q.Set("current_tier", string(current))
	q.Set("target_tier", string(pkgauth.TierPro))
	if userID != "" {
		q.Set("ref", UserRef(userID))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// UserRef is a truncated SHA-256 of the user ID, so links identify the
// account without exposing it.
func UserRef(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:userRefLen]
}

func denialMessage(d Decision) string {
	msg := fmt.Sprintf("You have used %d/%d %s this %s on the %s plan. The limit resets on %s.",
		d.Current, d.Limit, d.Operation.plural(), d.Operation.Window(), d.Tier, formatReset(d.ResetsAt))
	if d.UpgradeURL != "" {
		msg += fmt.Sprintf(" Upgrade to %s for more: %s", pkgauth.TierPro, d.UpgradeURL)
	}
	return msg
}

func warningMessage(d Decision) string {
	msg := fmt.Sprintf("%d of %d %s left this %s on the %s plan (resets %s).",
		d.Remaining, d.Limit, d.Operation.plural(), d.Operation.Window(), d.Tier, formatReset(d.ResetsAt))
	if d.UpgradeURL != "" {
		msg += " Upgrade: " + d.UpgradeURL
	}
	return msg
}

func formatReset(t time.Time) string {
	return t.UTC().Format("Monday, January 2 15:04 MST")
}
