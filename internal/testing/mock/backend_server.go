package mock

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// User is the identity the mock server reports in token responses.
type User struct {
	UserID       string
	Email        string
	Subscription string
}

// ErrorSimulation lets tests force failure paths.
type ErrorSimulation struct {
	// TokenEndpointError makes /oauth/token answer 400 server_error with this
	// description.
	TokenEndpointError string

	// InvalidGrant rejects every token request with invalid_grant.
	InvalidGrant bool

	// RefreshInvalidGrant rejects only refresh_token grants.
	RefreshInvalidGrant bool

	// TokenDelay delays every token response.
	TokenDelay time.Duration

	// RevokeStatus, when non-zero, is returned by /oauth/revoke.
	RevokeStatus int

	// UsageStatus, when non-zero, is returned by the usage endpoint.
	UsageStatus int

	// CallbackError makes /oauth/authorize redirect with error=<value>.
	CallbackError string

	// WrongState makes /oauth/authorize redirect with a forged state.
	WrongState bool

	// OmitExpiresIn drops expires_in from token responses.
	OmitExpiresIn bool
}

// BackendServerConfig configures the mock backend.
type BackendServerConfig struct {
	ClientID      string
	TokenLifetime time.Duration
	User          User

	// AutoApprove redirects /oauth/authorize straight back to redirect_uri
	// with a code, simulating a user who signs in immediately.
	AutoApprove bool

	// RotateRefreshTokens issues a new refresh token on every refresh and
	// invalidates the old one.
	RotateRefreshTokens bool

	// UsageJSON is served by GET /api/usage to a valid bearer token.
	UsageJSON string

	SimulateErrors *ErrorSimulation

	// Clock defaults to RealClock.
	Clock Clock
}

type authCodeEntry struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Method        string
}

type issuedToken struct {
	RefreshToken string
	ExpiresAt    time.Time
}

// BackendServer is a mock of the productivity backend: an OAuth 2.0
// authorization server with PKCE and a usage-accounting endpoint.
type BackendServer struct {
	mu         sync.Mutex
	config     BackendServerConfig
	clock      Clock
	httpServer *http.Server
	listener   net.Listener
	baseURL    string

	authCodes     map[string]*authCodeEntry
	accessTokens  map[string]*issuedToken
	refreshTokens map[string]bool

	tokenRequests map[string]int
	revocations   []string
	usageRequests int
}

// NewBackendServer creates a mock backend. Call Start before use.
func NewBackendServer(config BackendServerConfig) *BackendServer {
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = 7 * 24 * time.Hour
	}
	if config.User.UserID == "" {
		config.User = User{UserID: "user-123", Email: "jane@example.com", Subscription: "FREE"}
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &BackendServer{
		config:        config,
		clock:         clock,
		authCodes:     make(map[string]*authCodeEntry),
		accessTokens:  make(map[string]*issuedToken),
		refreshTokens: make(map[string]bool),
		tokenRequests: make(map[string]int),
	}
}

// Start listens on a random loopback port and returns the base URL.
func (s *BackendServer) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return s.baseURL, nil
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.baseURL = "http://" + listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/oauth/revoke", s.handleRevoke)
	mux.HandleFunc("/api/usage", s.handleUsage)

	srv := &http.Server{
		Handler:  mux,
		ErrorLog: log.New(io.Discard, "", 0),
	}
	s.httpServer = srv
	go func() { _ = srv.Serve(listener) }()

	return s.baseURL, nil
}

// Stop shuts the server down.
func (s *BackendServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// URL returns the base URL.
func (s *BackendServer) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *BackendServer) AuthorizeURL() string { return s.URL() + "/oauth/authorize" }
func (s *BackendServer) TokenURL() string     { return s.URL() + "/oauth/token" }
func (s *BackendServer) RevokeURL() string    { return s.URL() + "/oauth/revoke" }
func (s *BackendServer) UsageURL() string     { return s.URL() + "/api/usage" }

// ClientID returns the accepted client ID.
func (s *BackendServer) ClientID() string {
	return s.config.ClientID
}

// SetUsageJSON replaces the usage response body.
func (s *BackendServer) SetUsageJSON(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.UsageJSON = body
}

// SetErrors replaces the error simulation.
func (s *BackendServer) SetErrors(e *ErrorSimulation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SimulateErrors = e
}

// TokenRequests counts /oauth/token calls for a grant type ("" for all).
func (s *BackendServer) TokenRequests(grant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if grant == "" {
		total := 0
		for _, n := range s.tokenRequests {
			total += n
		}
		return total
	}
	return s.tokenRequests[grant]
}

// Revocations returns the tokens passed to /oauth/revoke.
func (s *BackendServer) Revocations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revocations...)
}

// UsageRequests counts usage endpoint calls.
func (s *BackendServer) UsageRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageRequests
}

// IssueCode registers an authorization code as /oauth/authorize would.
func (s *BackendServer) IssueCode(redirectURI, codeChallenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := generateOpaqueToken()
	s.authCodes[code] = &authCodeEntry{
		ClientID:      s.config.ClientID,
		RedirectURI:   redirectURI,
		CodeChallenge: codeChallenge,
		Method:        "S256",
	}
	return code
}

// IssueRefreshToken registers a refresh token directly.
func (s *BackendServer) IssueRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := generateOpaqueToken()
	s.refreshTokens[rt] = true
	return rt
}

// IssueAccessToken registers a bearer token the usage endpoint accepts.
func (s *BackendServer) IssueAccessToken(lifetime time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := generateOpaqueToken()
	s.accessTokens[at] = &issuedToken{ExpiresAt: s.clock.Now().Add(lifetime)}
	return at
}

func (s *BackendServer) errors() *ErrorSimulation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.SimulateErrors == nil {
		return &ErrorSimulation{}
	}
	e := *s.config.SimulateErrors
	return &e
}

func (s *BackendServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != s.config.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		http.Error(w, "PKCE S256 required", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	redirectURL, err := url.Parse(redirectURI)
	if err != nil || redirectURL.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	if !s.config.AutoApprove {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "mock authorization page")
		return
	}

	sim := s.errors()
	cb := redirectURL.Query()
	state := q.Get("state")
	if sim.WrongState {
		state = "forged-" + generateOpaqueToken()
	}
	cb.Set("state", state)
	if sim.CallbackError != "" {
		cb.Set("error", sim.CallbackError)
		cb.Set("error_description", "The user denied the request")
	} else {
		cb.Set("code", s.IssueCode(redirectURI, q.Get("code_challenge")))
	}
	redirectURL.RawQuery = cb.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *BackendServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}

	grant := r.PostForm.Get("grant_type")
	s.mu.Lock()
	s.tokenRequests[grant]++
	s.mu.Unlock()

	sim := s.errors()
	if sim.TokenDelay > 0 {
		time.Sleep(sim.TokenDelay)
	}
	if sim.TokenEndpointError != "" {
		writeOAuthError(w, http.StatusBadRequest, "server_error", sim.TokenEndpointError)
		return
	}
	if sim.InvalidGrant || (sim.RefreshInvalidGrant && grant == "refresh_token") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "grant is invalid or revoked")
		return
	}
	if r.PostForm.Get("client_id") != s.config.ClientID {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch grant {
	case "authorization_code":
		s.handleAuthCodeExchange(w, r, sim)
	case "refresh_token":
		s.handleRefreshToken(w, r, sim)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type "+grant+" not supported")
	}
}

func (s *BackendServer) handleAuthCodeExchange(w http.ResponseWriter, r *http.Request, sim *ErrorSimulation) {
	code := r.PostForm.Get("code")

	s.mu.Lock()
	entry, ok := s.authCodes[code]
	delete(s.authCodes, code)
	s.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or expired")
		return
	}
	if entry.RedirectURI != r.PostForm.Get("redirect_uri") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if !verifyPKCE(entry.CodeChallenge, r.PostForm.Get("code_verifier")) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	s.writeTokens(w, generateOpaqueToken(), sim)
}

func (s *BackendServer) handleRefreshToken(w http.ResponseWriter, r *http.Request, sim *ErrorSimulation) {
	rt := r.PostForm.Get("refresh_token")

	s.mu.Lock()
	valid := s.refreshTokens[rt]
	if valid && s.config.RotateRefreshTokens {
		delete(s.refreshTokens, rt)
	}
	s.mu.Unlock()

	if !valid {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
		return
	}

	next := rt
	if s.config.RotateRefreshTokens {
		next = generateOpaqueToken()
	}
	s.writeTokens(w, next, sim)
}

func (s *BackendServer) writeTokens(w http.ResponseWriter, refreshToken string, sim *ErrorSimulation) {
	accessToken := generateOpaqueToken()

	s.mu.Lock()
	s.accessTokens[accessToken] = &issuedToken{
		RefreshToken: refreshToken,
		ExpiresAt:    s.clock.Now().Add(s.config.TokenLifetime),
	}
	s.refreshTokens[refreshToken] = true
	user := s.config.User
	s.mu.Unlock()

	resp := map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"user": map[string]string{
			"userId":       user.UserID,
			"email":        user.Email,
			"subscription": user.Subscription,
		},
	}
	if !sim.OmitExpiresIn {
		resp["expires_in"] = int(s.config.TokenLifetime.Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *BackendServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	token := r.PostForm.Get("token")

	s.mu.Lock()
	s.revocations = append(s.revocations, token)
	s.mu.Unlock()

	if status := s.errors().RevokeStatus; status != 0 {
		writeOAuthError(w, status, "server_error", "revocation unavailable")
		return
	}

	s.mu.Lock()
	delete(s.refreshTokens, token)
	delete(s.accessTokens, token)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *BackendServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.usageRequests++
	body := s.config.UsageJSON
	s.mu.Unlock()

	if status := s.errors().UsageStatus; status != 0 {
		http.Error(w, "usage unavailable", status)
		return
	}
	if !s.ValidateToken(ExtractBearerToken(r.Header.Get("Authorization"))) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if body == "" {
		body = `{"tier":"FREE","usage":{"extractionsThisWeek":0,"conversionsThisWeek":0,"scoringThisMonth":0}}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// ValidateToken reports whether accessToken was issued and is unexpired.
func (s *BackendServer) ValidateToken(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.accessTokens[accessToken]
	return ok && s.clock.Now().Before(tok.ExpiresAt)
}

func verifyPKCE(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	return oauth2.S256ChallengeFromVerifier(verifier) == challenge
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func generateOpaqueToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ExtractBearerToken returns the token from an Authorization header value.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return authHeader[len(prefix):]
	}
	return ""
}
