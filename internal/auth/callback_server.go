package auth

import (
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/oauth2"

	"notebroker/internal/config"
	pkgauth "notebroker/pkg/auth"
	"notebroker/pkg/logging"
	pkgoauth "notebroker/pkg/oauth"
)

// loopbackHost is the only interface the callback listener binds to.
const loopbackHost = "127.0.0.1"

// DefaultCallbackTimeout bounds how long an attempt waits for the browser.
const DefaultCallbackTimeout = 5 * time.Minute

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(
	template.New("pages").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "templates/*.html"),
)

// ListenerConfig parameterises the callback listener.
type ListenerConfig struct {
	AuthorizeURL string
	ClientID     string
	Scopes       []string

	CallbackPath string
	Providers    []config.ProviderConfig

	PreferredPort  int
	FallbackPorts  []int
	AllowEphemeral bool

	Timeout time.Duration
}

// ListenerConfigFromConfig maps the OAuth section of the configuration.
func ListenerConfigFromConfig(c config.OAuthConfig) ListenerConfig {
	return ListenerConfig{
		AuthorizeURL:   c.AuthorizeURL,
		ClientID:       c.ClientID,
		Scopes:         c.Scopes,
		CallbackPath:   c.CallbackPath,
		Providers:      c.Providers,
		PreferredPort:  c.PreferredPort,
		FallbackPorts:  c.FallbackPorts,
		AllowEphemeral: c.AllowEphemeralPort,
		Timeout:        c.Timeout,
	}
}

// candidatePorts returns the ordered bind attempts. Port 0 asks the OS for an
// ephemeral port.
func (c ListenerConfig) candidatePorts() []int {
	var ports []int
	seen := make(map[int]bool)
	add := func(p int) {
		if p > 0 && !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	add(c.PreferredPort)
	for _, p := range c.FallbackPorts {
		add(p)
	}
	if c.AllowEphemeral || len(ports) == 0 {
		ports = append(ports, 0)
	}
	return ports
}

// CallbackResult is a validated callback.
type CallbackResult struct {
	Code     string
	Provider string

	// RedirectURI is the exact redirect_uri the code was issued for; the
	// token exchange must repeat it.
	RedirectURI string
}

type callbackOutcome struct {
	result *CallbackResult
	err    error
}

// CallbackServer is a short-lived loopback HTTP server owned by a single
// authentication attempt. It serves the login page, redirects to the
// authorization endpoint and accepts exactly one callback.
type CallbackServer struct {
	cfg     ListenerConfig
	attempt *pkgoauth.Attempt
	routes  []CallbackRoute

	server   *http.Server
	listener net.Listener
	port     int
	baseURL  string

	resultCh chan callbackOutcome
	done     chan struct{}
	once     sync.Once
	stopOnce sync.Once
}

// NewCallbackServer creates a listener for the given attempt. Nothing is
// bound until Start.
func NewCallbackServer(cfg ListenerConfig, attempt *pkgoauth.Attempt) *CallbackServer {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = config.DefaultCallbackPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallbackTimeout
	}
	return &CallbackServer{
		cfg:      cfg,
		attempt:  attempt,
		routes:   BuildRoutes(cfg.CallbackPath, cfg.Providers),
		resultCh: make(chan callbackOutcome, 1),
		done:     make(chan struct{}),
	}
}

// Start binds the first available candidate port on 127.0.0.1 and begins
// serving. It never waits for a port to free up: when every candidate is
// taken it returns ErrBrokerUnavailable.
func (s *CallbackServer) Start() error {
	var lastErr error
	for _, port := range s.cfg.candidatePorts() {
		addr := net.JoinHostPort(loopbackHost, strconv.Itoa(port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			logging.Debug("Auth", "Callback port %s unavailable: %v", addr, err)
			lastErr = err
			continue
		}
		s.listener = l
		break
	}
	if s.listener == nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, lastErr)
	}

	s.port = s.listener.Addr().(*net.TCPAddr).Port
	s.baseURL = "http://" + net.JoinHostPort(loopbackHost, strconv.Itoa(s.port))

	s.server = &http.Server{
		Handler:           s.routesMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.settle(callbackOutcome{err: fmt.Errorf("callback server: %w", err)})
		}
	}()

	logging.Info("Auth", "Callback listener bound on %s", s.baseURL)
	return nil
}

func (s *CallbackServer) routesMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleLogin)
	mux.HandleFunc("GET /login/{provider}", s.handleProviderRedirect)
	for _, route := range s.routes {
		mux.HandleFunc(route.Path, s.callbackHandler(route))
	}
	return mux
}

// Port returns the bound port, or 0 before Start.
func (s *CallbackServer) Port() int {
	return s.port
}

// LoginURL is the local page the user opens. With a single provider it
// redirects straight to the authorization endpoint.
func (s *CallbackServer) LoginURL() string {
	return s.baseURL + "/"
}

// RedirectURI returns the redirect_uri registered for a provider's route.
func (s *CallbackServer) RedirectURI(provider string) string {
	return s.baseURL + routeFor(s.routes, provider).Path
}

// AuthorizationURL builds the authorization request for a provider ("" for
// the default route).
func (s *CallbackServer) AuthorizationURL(provider string) string {
	conf := &oauth2.Config{
		ClientID:    s.cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: s.cfg.AuthorizeURL},
		RedirectURL: s.RedirectURI(provider),
		Scopes:      s.cfg.Scopes,
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", s.attempt.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkgoauth.CodeChallengeMethodS256),
	}
	if provider != "" {
		opts = append(opts, oauth2.SetAuthURLParam("provider", provider))
	}
	return conf.AuthCodeURL(s.attempt.State, opts...)
}

func (s *CallbackServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	switch len(s.cfg.Providers) {
	case 0:
		http.Redirect(w, r, s.AuthorizationURL(""), http.StatusFound)
		return
	case 1:
		http.Redirect(w, r, s.AuthorizationURL(s.cfg.Providers[0].Name), http.StatusFound)
		return
	}

	data := map[string]any{
		"AppName":   "notebroker",
		"Providers": s.cfg.Providers,
		"ExpiresIn": pkgauth.FormatRemaining(time.Until(s.attempt.CreatedAt.Add(s.cfg.Timeout))),
	}
	renderPage(w, http.StatusOK, "login.html", data)
}

func (s *CallbackServer) handleProviderRedirect(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	name := r.PathValue("provider")
	for _, p := range s.cfg.Providers {
		if p.Name == name {
			http.Redirect(w, r, s.AuthorizationURL(name), http.StatusFound)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *CallbackServer) callbackHandler(route CallbackRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)

		handled := false
		s.once.Do(func() {
			handled = true
			s.processCallback(w, r, route)
		})
		if !handled {
			http.Error(w, "Callback already processed", http.StatusBadRequest)
		}
	}
}

// processCallback runs exactly once per attempt. Validation order matters:
// provider error, then state, then code.
func (s *CallbackServer) processCallback(w http.ResponseWriter, r *http.Request, route CallbackRoute) {
	params, err := route.Extract(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrMalformedCallback, err), "invalid_request", "")
		return
	}
	params.Provider = route.Provider

	if params.Error != "" {
		perr := &ProviderError{Provider: params.Provider, Code: params.Error, Description: params.ErrorDescription}
		logging.Warn("Auth", "Authorization server returned an error: %s", perr.Error())
		s.fail(w, http.StatusOK, perr, params.Error, params.ErrorDescription)
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.State), []byte(s.attempt.State)) != 1 {
		logging.Audit("callback_state_mismatch",
			"attempt_id", s.attempt.ID,
			"provider", params.Provider,
			"remote_addr", r.RemoteAddr,
		)
		s.fail(w, http.StatusBadRequest, ErrStateMismatch, "state_mismatch",
			"The sign in response did not match this session. Start the sign in again.")
		return
	}

	if params.Code == "" {
		s.fail(w, http.StatusBadRequest, ErrMalformedCallback, "invalid_request", "The response did not include an authorization code.")
		return
	}

	renderPage(w, http.StatusOK, "callback_success.html", map[string]any{"Provider": params.Provider})
	s.settle(callbackOutcome{result: &CallbackResult{
		Code:        params.Code,
		Provider:    params.Provider,
		RedirectURI: s.baseURL + route.Path,
	}})
	go s.Stop()
}

func (s *CallbackServer) fail(w http.ResponseWriter, status int, err error, code, description string) {
	renderPage(w, status, "callback_error.html", map[string]any{
		"Error":       code,
		"Description": description,
	})
	s.settle(callbackOutcome{err: err})
	go s.Stop()
}

func (s *CallbackServer) settle(o callbackOutcome) {
	select {
	case s.resultCh <- o:
	default:
	}
}

// Wait blocks until the callback is handled, the timeout elapses, the
// listener is stopped, or ctx is done. The listener is not stopped by Wait;
// callers defer Stop.
func (s *CallbackServer) Wait(ctx context.Context) (*CallbackResult, error) {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case o := <-s.resultCh:
		return o.result, o.err
	case <-timer.C:
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAuthCancelled, ctx.Err())
	case <-s.done:
		// A callback may have settled just before Stop.
		select {
		case o := <-s.resultCh:
			return o.result, o.err
		default:
			return nil, ErrAuthCancelled
		}
	}
}

// Stop shuts the listener down. It is safe to call more than once and
// before Start.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
			logging.Debug("Auth", "Callback listener on port %d released", s.port)
		}
	})
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

func renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		logging.Error("Auth", err, "Failed to render %s", name)
	}
}
