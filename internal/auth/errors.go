package auth

import (
	"errors"
	"fmt"

	pkgstrings "notebroker/pkg/strings"
)

var (
	// ErrAuthInProgress is returned when an attempt is already pending.
	ErrAuthInProgress = errors.New("authentication already in progress")

	// ErrBrokerUnavailable means no candidate callback port could be bound.
	ErrBrokerUnavailable = errors.New("broker unavailable: no callback port could be bound")

	// ErrNoSession means there is no usable session; the caller must
	// authenticate explicitly.
	ErrNoSession = errors.New("no session")

	// ErrStateMismatch is a security violation: the callback's state did not
	// match the attempt's.
	ErrStateMismatch = errors.New("state mismatch: possible cross-site request forgery")

	// ErrMalformedCallback means the callback carried neither an error nor a code.
	ErrMalformedCallback = errors.New("malformed callback: missing authorization code")

	// ErrAuthTimeout means the user did not finish in the browser in time.
	ErrAuthTimeout = errors.New("authentication timed out")

	// ErrAuthCancelled means the attempt was torn down before it completed,
	// for example by sign-out.
	ErrAuthCancelled = errors.New("authentication cancelled")
)

// ProviderError is an error reported by the authorization server through the
// callback, e.g. access_denied when the user declines.
type ProviderError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	msg := "provider error: " + e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// ExchangeError is a non-2xx response from the token or revoke endpoint.
// Body holds the raw upstream response.
type ExchangeError struct {
	Grant       string
	StatusCode  int
	Code        string
	Description string
	Body        string
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s grant rejected (HTTP %d): %s: %s", e.Grant, e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s grant rejected (HTTP %d): %s", e.Grant, e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("%s grant rejected (HTTP %d): %s", e.Grant, e.StatusCode,
			pkgstrings.Truncate(e.Body, pkgstrings.DefaultErrorBodyMaxLen))
	}
}

// IsRevoked reports whether the upstream says the grant is no longer valid
// (expired code, revoked or reused refresh token).
func (e *ExchangeError) IsRevoked() bool {
	return e.Code == "invalid_grant"
}

// IsRetryable reports whether the caller may simply retry later. Nothing in
// this package retries on its own.
func IsRetryable(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.StatusCode >= 500
	}
	return errors.Is(err, ErrAuthTimeout) || errors.Is(err, ErrBrokerUnavailable)
}
