package auth

import (
	"fmt"
	"time"
)

// State is the session manager's lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Status is a point-in-time view of the local session.
type Status struct {
	State         State     `json:"state"`
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"user_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	Tier          Tier      `json:"tier,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`

	// RefreshDue is true when the token is inside the refresh buffer and the
	// next GetValidAccessToken call will refresh it.
	RefreshDue bool `json:"refresh_due,omitempty"`

	// LoginURL is set while an attempt is pending.
	LoginURL string `json:"login_url,omitempty"`
}

// ExpiresIn renders the time until expiry relative to now,
// e.g. "3d 4h", "2h 15m", "45m", or "expired".
func (s Status) ExpiresIn(now time.Time) string {
	if s.ExpiresAt.IsZero() {
		return "unknown"
	}
	return FormatRemaining(s.ExpiresAt.Sub(now))
}

// FormatRemaining renders a duration at coarse granularity.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "<1m"
	}
}
