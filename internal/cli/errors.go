package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"notebroker/internal/auth"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates the notes backend could not be reached.
type ConnectionError struct {
	// Endpoint is the URL that could not be reached.
	Endpoint string
	Type     ConnectionErrorType
	Reason   error
}

// Error returns a message with guidance for the error type.
func (e *ConnectionError) Error() string {
	var hint string
	switch e.Type {
	case ConnectionErrorTLS:
		return fmt.Sprintf(`TLS certificate verification failed for %s: %v

Self-signed or expired certificates are not accepted. Check backend.baseURL
in your notebroker configuration.`, e.Endpoint, e.Reason)
	case ConnectionErrorDNS:
		hint = "Check the host name in backend.baseURL."
	case ConnectionErrorTimeout:
		hint = "The backend did not answer in time. Try again, or raise backend.requestTimeout."
	case ConnectionErrorNetwork:
		hint = "Check your network connection and that the backend is up."
	default:
		hint = "Try again shortly."
	}
	return fmt.Sprintf("%s: could not reach %s: %v\n\n%s", e.Type, e.Endpoint, e.Reason, hint)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

// ClassifyConnectionError analyzes an error and returns a ConnectionError with the appropriate type.
// If the error is nil, returns nil.
func ClassifyConnectionError(err error, endpoint string) *ConnectionError {
	if err == nil {
		return nil
	}

	ce := &ConnectionError{Endpoint: endpoint, Type: ConnectionErrorUnknown, Reason: err}

	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		ce.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		ce.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		ce.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		ce.Type = ConnectionErrorNetwork
	}
	return ce
}

// isTLSError checks if the error is related to TLS/certificate issues.
func isTLSError(err error) bool {
	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	var systemRootsErr *x509.SystemRootsError

	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is a timeout.
func isTimeoutError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if the error string indicates a network connectivity issue.
func isNetworkError(errStr string) bool {
	networkKeywords := []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	}

	for _, keyword := range networkKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError indicates no user is signed in.
type AuthRequiredError struct {
	// Reason is set when a session existed but could not be renewed.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	head := "Not signed in to notebroker"
	if e.Reason != nil {
		head = fmt.Sprintf("Not signed in to notebroker (%v)", e.Reason)
	}
	return head + `

To sign in, run:
  notebroker auth login

To check current authentication status:
  notebroker auth status`
}

// Unwrap returns the underlying error.
func (e *AuthRequiredError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError indicates the session expired and could not be refreshed.
type AuthExpiredError struct {
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf(`Session expired and could not be refreshed: %v

To sign in again, run:
  notebroker auth login`, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthExpiredError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError indicates a sign-in attempt failed.
type AuthFailedError struct {
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	msg := fmt.Sprintf("Sign-in failed: %v", e.Reason)

	var pe *auth.ProviderError
	switch {
	case errors.As(e.Reason, &pe) && pe.Code == "access_denied":
		msg += "\n\nAccess was declined in the browser."
	case errors.Is(e.Reason, auth.ErrBrokerUnavailable):
		msg += "\n\nNo local port was free for the sign-in callback. Close other sign-in windows, " +
			"or set oauth.allowEphemeralPort in your configuration."
	case errors.Is(e.Reason, auth.ErrStateMismatch):
		msg += "\n\nThe browser returned a response for a different sign-in attempt."
	}
	return msg + `

To retry, run:
  notebroker auth login`
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// LoginError converts an error from an interactive sign-in into the CLI error
// type that selects the exit code.
func LoginError(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	var ee *auth.ExchangeError
	if !errors.As(err, &ee) && isTransportError(err) {
		return ClassifyConnectionError(err, endpoint)
	}
	return &AuthFailedError{Reason: err}
}

// SessionError converts an error from obtaining or refreshing a token.
// hadSession distinguishes a missing session from one that could not be
// renewed.
func SessionError(err error, hadSession bool, endpoint string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrNoSession) && hadSession:
		return &AuthExpiredError{Reason: err}
	case errors.Is(err, auth.ErrNoSession):
		return &AuthRequiredError{}
	case isTransportError(err):
		return ClassifyConnectionError(err, endpoint)
	}
	return err
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr)
}
