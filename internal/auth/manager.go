package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	pkgauth "notebroker/pkg/auth"
	"notebroker/pkg/logging"
	pkgoauth "notebroker/pkg/oauth"
	pkgstrings "notebroker/pkg/strings"
)

// DefaultRefreshBuffer is how far ahead of expiry a token is refreshed.
const DefaultRefreshBuffer = 24 * time.Hour

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TokenExchanger is the subset of Exchanger the manager needs.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*pkgoauth.TokenSet, error)
	ExchangeRefresh(ctx context.Context, refreshToken string) (*pkgoauth.TokenSet, error)
	Revoke(ctx context.Context, token, hint string) error
}

// SessionStore persists the session. Load reports absence and corruption
// alike as nil.
type SessionStore interface {
	Save(s *Session) error
	Load() *Session
	Clear() error
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Store     SessionStore
	Exchanger TokenExchanger
	Listener  ListenerConfig

	RefreshBuffer time.Duration

	// OpenBrowser, when set, is called with the login URL once the listener
	// is bound. Failure is logged; the URL is still returned to the caller.
	OpenBrowser func(url string) error

	Clock Clock
}

// Manager owns the session and drives its lifecycle:
//
//	unauthenticated -> authenticating -> authenticated -> refreshing -> authenticated
//	                                                                 \-> unauthenticated
//
// It is safe for concurrent use. Callers never touch tokens except through
// GetValidAccessToken or TokenSource.
type Manager struct {
	cfg   ManagerConfig
	clock Clock

	mu      sync.Mutex
	state   pkgauth.State
	session *Session
	// generation changes whenever the session is replaced or cleared, so an
	// in-flight refresh can tell its result is stale.
	generation uint64
	pending    *PendingAuth

	refreshGroup singleflight.Group
}

// NewManager creates a Manager and loads any persisted session.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth manager: store is required")
	}
	if cfg.Exchanger == nil {
		return nil, errors.New("auth manager: exchanger is required")
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	m := &Manager{
		cfg:   cfg,
		clock: clock,
		state: pkgauth.StateUnauthenticated,
	}
	if s := cfg.Store.Load(); s != nil {
		m.session = s
		m.state = pkgauth.StateAuthenticated
		logging.Info("Auth", "Loaded stored session for %s", pkgstrings.MaskEmail(s.Email))
	}
	return m, nil
}

// PendingAuth is an in-flight authentication attempt.
type PendingAuth struct {
	ID       string
	LoginURL string
	Port     int
	Deadline time.Time

	server *CallbackServer
	cancel context.CancelFunc
	done   chan struct{}
	status pkgauth.Status
	err    error
}

// Done is closed when the attempt settles.
func (p *PendingAuth) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome once Done is closed.
func (p *PendingAuth) Result() (pkgauth.Status, error) {
	<-p.done
	return p.status, p.err
}

// Wait blocks until the attempt settles or ctx is done. Cancelling ctx stops
// the wait, not the attempt; use Cancel for that.
func (p *PendingAuth) Wait(ctx context.Context) (pkgauth.Status, error) {
	select {
	case <-p.done:
		return p.status, p.err
	case <-ctx.Done():
		return pkgauth.Status{}, ctx.Err()
	}
}

// Cancel aborts the attempt and releases its listener.
func (p *PendingAuth) Cancel() {
	p.cancel()
	p.server.Stop()
}

// StartAuthentication begins an attempt and returns once the listener is
// bound. The flow completes in the background; observe it through the
// returned PendingAuth. A second call while an attempt is pending fails with
// ErrAuthInProgress and binds nothing.
func (m *Manager) StartAuthentication(ctx context.Context) (*PendingAuth, error) {
	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		return nil, ErrAuthInProgress
	}

	attempt, err := pkgoauth.NewAttempt()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("pkce: %w", err)
	}

	srv := NewCallbackServer(m.cfg.Listener, attempt)
	if err := srv.Start(); err != nil {
		m.mu.Unlock()
		logging.Error("Auth", err, "Could not bind callback listener")
		return nil, fmt.Errorf("callback listener: %w", err)
	}

	flowCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &PendingAuth{
		ID:       attempt.ID,
		LoginURL: srv.LoginURL(),
		Port:     srv.Port(),
		Deadline: m.clock.Now().Add(srv.cfg.Timeout),
		server:   srv,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.pending = p
	m.state = pkgauth.StateAuthenticating
	m.mu.Unlock()

	logging.Info("Auth", "Authentication attempt %s started, login page %s", attempt.ID, p.LoginURL)

	if m.cfg.OpenBrowser != nil {
		if err := m.cfg.OpenBrowser(p.LoginURL); err != nil {
			logging.Warn("Auth", "Could not open browser, visit %s manually: %v", p.LoginURL, err)
		}
	}

	go m.runAttempt(flowCtx, p, attempt)
	return p, nil
}

// Authenticate runs a full attempt and blocks until it settles. Cancelling
// ctx aborts the attempt.
func (m *Manager) Authenticate(ctx context.Context) (pkgauth.Status, error) {
	p, err := m.StartAuthentication(ctx)
	if err != nil {
		return pkgauth.Status{}, err
	}
	status, err := p.Wait(ctx)
	if ctx.Err() != nil {
		p.Cancel()
		<-p.Done()
		return pkgauth.Status{}, fmt.Errorf("%w: %w", ErrAuthCancelled, ctx.Err())
	}
	return status, err
}

func (m *Manager) runAttempt(ctx context.Context, p *PendingAuth, attempt *pkgoauth.Attempt) {
	defer p.cancel()
	defer p.server.Stop()

	result, err := p.server.Wait(ctx)
	if err != nil {
		m.finishAttempt(p, nil, fmt.Errorf("callback listener: %w", err))
		return
	}

	tokens, err := m.cfg.Exchanger.ExchangeCode(ctx, result.Code, attempt.CodeVerifier, result.RedirectURI)
	if err != nil {
		m.finishAttempt(p, nil, fmt.Errorf("token exchange: %w", err))
		return
	}

	m.finishAttempt(p, sessionFromTokens(tokens, nil), nil)
}

func (m *Manager) finishAttempt(p *PendingAuth, s *Session, err error) {
	m.mu.Lock()
	current := m.pending == p
	if current {
		m.pending = nil
		if err == nil {
			m.replaceSessionLocked(s)
		} else {
			m.restoreStateLocked()
		}
	} else if err == nil {
		// Signed out while the exchange was running.
		err = ErrAuthCancelled
	}
	status := m.statusLocked()
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrStateMismatch) {
			logging.Audit("authentication_rejected", "attempt_id", p.ID, "reason", "state_mismatch")
		}
		logging.Error("Auth", err, "Authentication attempt %s failed", p.ID)
	} else {
		logging.Info("Auth", "Authenticated as %s (%s)", pkgstrings.MaskEmail(s.Email), s.Tier)
	}

	p.status, p.err = status, err
	close(p.done)
}

// replaceSessionLocked installs s and persists it. A persistence failure is
// logged; the in-memory session stays usable.
func (m *Manager) replaceSessionLocked(s *Session) {
	m.session = s
	m.generation++
	m.settleStateLocked(pkgauth.StateAuthenticated)
	if err := m.cfg.Store.Save(s); err != nil {
		logging.Error("Auth", err, "Failed to persist session, continuing in memory")
	}
}

func (m *Manager) clearSessionLocked() {
	m.session = nil
	m.generation++
	m.settleStateLocked(pkgauth.StateUnauthenticated)
	if err := m.cfg.Store.Clear(); err != nil {
		logging.Error("Auth", err, "Failed to remove stored session")
	}
}

// settleStateLocked sets the resting state, unless an attempt is pending, in
// which case the manager stays authenticating.
func (m *Manager) settleStateLocked(st pkgauth.State) {
	if m.pending != nil {
		m.state = pkgauth.StateAuthenticating
		return
	}
	m.state = st
}

// restoreStateLocked leaves the authenticating state after a failed attempt.
// A prior session that is still usable stays in effect.
func (m *Manager) restoreStateLocked() {
	if m.usableLocked(m.session) {
		m.state = pkgauth.StateAuthenticated
		return
	}
	m.state = pkgauth.StateUnauthenticated
}

// usableLocked reports whether s can produce an access token without a new
// sign-in: either it has not expired or it can be refreshed.
func (m *Manager) usableLocked(s *Session) bool {
	return s != nil && (m.clock.Now().Before(s.ExpiresAt) || s.RefreshToken != "")
}

// GetValidAccessToken returns an access token that is not expired. Inside the
// refresh buffer it refreshes first; concurrent callers share one refresh.
// It never starts a browser flow: with no session it returns ErrNoSession.
// A failed refresh clears the session and returns an error wrapping
// ErrNoSession.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	s, err := m.validSession(ctx, false)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// ForceRefresh refreshes regardless of the buffer.
func (m *Manager) ForceRefresh(ctx context.Context) (pkgauth.Status, error) {
	if _, err := m.validSession(ctx, true); err != nil {
		return m.GetStatus(), err
	}
	return m.GetStatus(), nil
}

func (m *Manager) validSession(ctx context.Context, force bool) (*Session, error) {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if !force && !m.refreshDueLocked(s) {
		c := s.clone()
		m.mu.Unlock()
		return c, nil
	}
	gen := m.generation
	m.mu.Unlock()

	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), gen, force)
	})
	if shared {
		logging.Debug("Auth", "Joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) refreshDueLocked(s *Session) bool {
	return !m.clock.Now().Add(m.cfg.RefreshBuffer).Before(s.ExpiresAt)
}

func (m *Manager) refresh(ctx context.Context, gen uint64, force bool) (*Session, error) {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	// Another refresh may have completed between the caller's check and now.
	if m.generation != gen && !m.refreshDueLocked(s) {
		c := s.clone()
		m.mu.Unlock()
		return c, nil
	}
	if s.RefreshToken == "" {
		m.clearSessionLocked()
		m.mu.Unlock()
		logging.Warn("Auth", "Session has no refresh token, re-authentication required")
		return nil, fmt.Errorf("%w: no refresh token", ErrNoSession)
	}
	refreshToken := s.RefreshToken
	gen = m.generation
	if m.pending == nil {
		m.state = pkgauth.StateRefreshing
	}
	m.mu.Unlock()

	logging.Debug("Auth", "Refreshing access token expiring at %s (forced=%t)", s.ExpiresAt.Format(time.RFC3339), force)
	tokens, err := m.cfg.Exchanger.ExchangeRefresh(ctx, refreshToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen {
		// Signed out or re-authenticated meanwhile; the result belongs to a
		// session that no longer exists.
		if m.session.valid() && m.clock.Now().Before(m.session.ExpiresAt) {
			return m.session.clone(), nil
		}
		return nil, ErrNoSession
	}

	if err == nil && !m.clock.Now().Before(tokens.ExpiresAt) {
		err = errors.New("refreshed token is already expired")
	}
	if err != nil {
		var ee *ExchangeError
		if errors.As(err, &ee) && ee.IsRevoked() {
			logging.Warn("Auth", "Refresh token rejected by server (%s), clearing session", ee.Code)
		} else {
			logging.Error("Auth", err, "Token refresh failed, clearing session")
		}
		m.clearSessionLocked()
		return nil, fmt.Errorf("%w: refresh failed: %w", ErrNoSession, err)
	}

	next := sessionFromTokens(tokens, s)
	m.replaceSessionLocked(next)
	logging.Info("Auth", "Access token refreshed, valid until %s", next.ExpiresAt.Format(time.RFC3339))
	return next.clone(), nil
}

// SignOutResult reports what SignOut did.
type SignOutResult struct {
	HadSession bool
	Revoked    bool
	RevokeErr  error
}

// SignOut cancels any pending attempt, revokes the refresh token on a best
// effort basis and clears local state. Local state is cleared even when
// revocation fails.
func (m *Manager) SignOut(ctx context.Context) SignOutResult {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	s := m.session
	m.clearSessionLocked()
	m.mu.Unlock()

	if p != nil {
		logging.Info("Auth", "Cancelling pending authentication attempt %s", p.ID)
		p.Cancel()
	}

	res := SignOutResult{HadSession: s != nil}
	if s == nil {
		return res
	}

	token, hint := s.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = s.AccessToken, "access_token"
	}
	if err := m.cfg.Exchanger.Revoke(ctx, token, hint); err != nil {
		logging.Warn("Auth", "Token revocation failed, local session cleared anyway: %v", err)
		res.RevokeErr = err
	} else {
		res.Revoked = true
	}
	logging.Info("Auth", "Signed out %s", pkgstrings.MaskEmail(s.Email))
	return res
}

// GetStatus returns a token-free snapshot.
func (m *Manager) GetStatus() pkgauth.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() pkgauth.Status {
	st := pkgauth.Status{State: m.state}
	if m.pending != nil {
		st.LoginURL = m.pending.LoginURL
	}
	if s := m.session; s != nil {
		st.Authenticated = m.usableLocked(s)
		st.UserID = s.UserID
		st.Email = s.Email
		st.Tier = s.Tier
		st.ExpiresAt = s.ExpiresAt
		st.RefreshDue = m.refreshDueLocked(s)
	}
	return st
}

// Identity returns the user ID and tier of the current session.
func (m *Manager) Identity() (userID string, tier pkgauth.Tier, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return "", "", false
	}
	return m.session.UserID, m.session.Tier, true
}

// Reload re-reads the store, picking up a session written or removed by
// another process. It does nothing while an attempt is pending. The result
// reports whether the held session changed.
func (m *Manager) Reload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return false
	}

	s := m.cfg.Store.Load()
	switch {
	case s == nil && m.session == nil:
		return false
	case s == nil:
		logging.Info("Auth", "Stored session removed externally, signing out locally")
		m.session = nil
		m.generation++
		m.state = pkgauth.StateUnauthenticated
	case sameSession(s, m.session):
		return false
	default:
		logging.Info("Auth", "Picked up stored session for %s", pkgstrings.MaskEmail(s.Email))
		m.session = s
		m.generation++
		m.state = pkgauth.StateAuthenticated
	}
	return true
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken &&
		a.UserID == b.UserID &&
		a.Email == b.Email &&
		a.Tier == b.Tier &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}

// TokenSource adapts the manager to oauth2.TokenSource so HTTP clients built
// with oauth2.NewClient always carry a valid token.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	s, err := ts.m.validSession(ts.ctx, false)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: s.AccessToken,
		TokenType:   "Bearer",
		Expiry:      s.ExpiresAt,
	}, nil
}
