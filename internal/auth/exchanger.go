package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"notebroker/pkg/logging"
	pkgoauth "notebroker/pkg/oauth"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	// defaultTokenLifetime applies when the server omits expires_in.
	defaultTokenLifetime = time.Hour

	maxResponseBytes = 1 << 20
)

// Exchanger talks to the token and revoke endpoints. Every call is a single
// POST; nothing is retried.
type Exchanger struct {
	tokenURL   string
	revokeURL  string
	clientID   string
	httpClient *http.Client
	now        func() time.Time
}

// ExchangerConfig configures an Exchanger.
type ExchangerConfig struct {
	TokenURL   string
	RevokeURL  string
	ClientID   string
	HTTPClient *http.Client
	Clock      Clock
}

// NewExchanger creates an Exchanger. A nil HTTPClient gets a 30s timeout
// client.
func NewExchanger(cfg ExchangerConfig) *Exchanger {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Exchanger{
		tokenURL:   cfg.TokenURL,
		revokeURL:  cfg.RevokeURL,
		clientID:   cfg.ClientID,
		httpClient: client,
		now:        clock.Now,
	}
}

// ExchangeCode redeems an authorization code. redirectURI must equal the one
// used in the authorization request.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*pkgoauth.TokenSet, error) {
	form := url.Values{
		"grant_type":    {grantAuthorizationCode},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {e.clientID},
	}
	return e.tokenRequest(ctx, grantAuthorizationCode, form)
}

// ExchangeRefresh redeems a refresh token.
func (e *Exchanger) ExchangeRefresh(ctx context.Context, refreshToken string) (*pkgoauth.TokenSet, error) {
	logging.For("Auth").Debug("Refreshing access token", "refresh_token", pkgoauth.NewRedactedToken(refreshToken))
	form := url.Values{
		"grant_type":    {grantRefreshToken},
		"refresh_token": {refreshToken},
		"client_id":     {e.clientID},
	}
	return e.tokenRequest(ctx, grantRefreshToken, form)
}

// Revoke asks the server to invalidate token (RFC 7009). hint is
// "refresh_token" or "access_token".
func (e *Exchanger) Revoke(ctx context.Context, token, hint string) error {
	if e.revokeURL == "" {
		return nil
	}
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {e.clientID},
	}
	status, body, err := e.post(ctx, e.revokeURL, form)
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	if status < 200 || status >= 300 {
		return newExchangeError("revoke", status, body)
	}
	return nil
}

func (e *Exchanger) tokenRequest(ctx context.Context, grant string, form url.Values) (*pkgoauth.TokenSet, error) {
	status, body, err := e.post(ctx, e.tokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("%s grant: %w", grant, err)
	}
	if status < 200 || status >= 300 {
		return nil, newExchangeError(grant, status, body)
	}
	// receivedAt anchors ExpiresAt so no caller does relative math later.
	return parseTokenResponse(body, e.now())
}

func (e *Exchanger) post(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func newExchangeError(grant string, status int, body []byte) *ExchangeError {
	ee := &ExchangeError{
		Grant:      grant,
		StatusCode: status,
		Body:       string(body),
	}
	if gjson.ValidBytes(body) {
		ee.Code = gjson.GetBytes(body, "error").String()
		ee.Description = firstString(body, "error_description", "message")
	}
	return ee
}

func parseTokenResponse(body []byte, receivedAt time.Time) (*pkgoauth.TokenSet, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("token response is not valid JSON")
	}

	ts := &pkgoauth.TokenSet{
		AccessToken:  gjson.GetBytes(body, "access_token").String(),
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
		TokenType:    gjson.GetBytes(body, "token_type").String(),
		Scope:        gjson.GetBytes(body, "scope").String(),
		ExpiresIn:    gjson.GetBytes(body, "expires_in").Int(),
		User: pkgoauth.UserInfo{
			UserID:       firstString(body, "user.userId", "user.id", "user.user_id", "user_id"),
			Email:        firstString(body, "user.email", "email"),
			Subscription: firstString(body, "user.subscription.tier", "user.subscription", "user.subscriptionTier", "subscription"),
		},
	}
	if ts.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	lifetime := time.Duration(ts.ExpiresIn) * time.Second
	if ts.ExpiresIn <= 0 {
		logging.Warn("Auth", "Token response has no usable expires_in, assuming %s", defaultTokenLifetime)
		lifetime = defaultTokenLifetime
		ts.ExpiresIn = int64(defaultTokenLifetime / time.Second)
	}
	ts.ExpiresAt = receivedAt.Add(lifetime)
	return ts, nil
}

// firstString returns the first non-empty string found at any of paths.
// Objects are skipped so "user.subscription" does not match a nested block.
func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if r.Exists() && !r.IsObject() && !r.IsArray() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
