package oauth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// UserInfo is the identity block the authorization server returns alongside
// the tokens.
type UserInfo struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Subscription string `json:"subscription,omitempty"`
}

// TokenSet is the result of a successful code or refresh-token exchange.
//
// ExpiresIn is kept as received; ExpiresAt is the absolute instant computed
// by the exchanger at receipt time. Consumers must only ever compare against
// ExpiresAt.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         UserInfo  `json:"user"`
}

// ExpiresWithin reports whether the access token expires before now+window.
// A zero ExpiresAt counts as expired.
func (t *TokenSet) ExpiresWithin(now time.Time, window time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(window).Before(t.ExpiresAt)
}

// Scopes returns the granted scopes as a slice.
func (t *TokenSet) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the set to an oauth2.Token for use with
// golang.org/x/oauth2 transports.
func (t *TokenSet) ToOAuth2Token() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}
