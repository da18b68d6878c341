package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"testing"

	"notebroker/internal/auth"
)

func TestAuthRequiredError(t *testing.T) {
	t.Run("error message includes guidance", func(t *testing.T) {
		msg := (&AuthRequiredError{}).Error()

		if !strings.Contains(msg, "notebroker auth login") {
			t.Error("expected error message to contain login command")
		}
		if !strings.Contains(msg, "notebroker auth status") {
			t.Error("expected error message to contain status command")
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		wrappedErr := fmt.Errorf("wrapped: %w", &AuthRequiredError{})

		if !errors.Is(wrappedErr, &AuthRequiredError{}) {
			t.Error("expected errors.Is to find wrapped AuthRequiredError")
		}
		if errors.Is(wrappedErr, &AuthFailedError{}) {
			t.Error("expected errors.Is not to match AuthFailedError")
		}
	})
}

func TestAuthFailedError(t *testing.T) {
	tests := []struct {
		name   string
		reason error
		want   string
	}{
		{
			name:   "user declined",
			reason: &auth.ProviderError{Code: "access_denied"},
			want:   "Access was declined",
		},
		{
			name:   "no port",
			reason: auth.ErrBrokerUnavailable,
			want:   "oauth.allowEphemeralPort",
		},
		{
			name:   "state mismatch",
			reason: fmt.Errorf("callback: %w", auth.ErrStateMismatch),
			want:   "different sign-in attempt",
		},
		{
			name:   "timeout",
			reason: auth.ErrAuthTimeout,
			want:   "authentication timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &AuthFailedError{Reason: tt.reason}
			msg := err.Error()

			if !strings.Contains(msg, tt.want) {
				t.Errorf("expected %q in %q", tt.want, msg)
			}
			if !strings.Contains(msg, "notebroker auth login") {
				t.Error("expected retry guidance")
			}
			if !errors.Is(err, tt.reason) {
				t.Error("expected Unwrap to expose the reason")
			}
		})
	}
}

func TestConnectionErrorType(t *testing.T) {
	tests := []struct {
		name     string
		errType  ConnectionErrorType
		expected string
	}{
		{"unknown type", ConnectionErrorUnknown, "Connection error"},
		{"TLS type", ConnectionErrorTLS, "TLS certificate error"},
		{"network type", ConnectionErrorNetwork, "Network error"},
		{"timeout type", ConnectionErrorTimeout, "Connection timeout"},
		{"DNS type", ConnectionErrorDNS, "DNS resolution error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.errType.String()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestConnectionError(t *testing.T) {
	t.Run("TLS error message includes certificate guidance", func(t *testing.T) {
		err := &ConnectionError{
			Endpoint: "https://notes.example.com",
			Type:     ConnectionErrorTLS,
			Reason:   errors.New("x509: certificate is not valid for hostname"),
		}
		msg := err.Error()

		if !strings.Contains(msg, "TLS certificate verification failed") {
			t.Error("expected error message to mention TLS verification")
		}
		if !strings.Contains(msg, "notes.example.com") {
			t.Error("expected error message to contain endpoint")
		}
	})

	t.Run("timeout error suggests the timeout setting", func(t *testing.T) {
		err := &ConnectionError{
			Endpoint: "https://notes.example.com",
			Type:     ConnectionErrorTimeout,
			Reason:   errors.New("context deadline exceeded"),
		}
		if !strings.Contains(err.Error(), "backend.requestTimeout") {
			t.Error("expected timeout guidance")
		}
	})
}

func TestClassifyConnectionError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if ClassifyConnectionError(nil, "https://example.com") != nil {
			t.Error("expected nil for nil error")
		}
	})

	tests := []struct {
		name string
		err  error
		want ConnectionErrorType
	}{
		{
			name: "x509 message",
			err:  errors.New("Get https://example.com: x509: certificate is not valid for hostname"),
			want: ConnectionErrorTLS,
		},
		{
			name: "x509 HostnameError",
			err:  fmt.Errorf("connection failed: %w", &x509.HostnameError{Certificate: &x509.Certificate{}, Host: "example.com"}),
			want: ConnectionErrorTLS,
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:443: connect: connection refused"),
			want: ConnectionErrorNetwork,
		},
		{
			name: "deadline",
			err:  errors.New("context deadline exceeded"),
			want: ConnectionErrorTimeout,
		},
		{
			name: "DNS",
			err:  fmt.Errorf("lookup failed: %w", &net.DNSError{Err: "no such host", Name: "nonexistent.example.com"}),
			want: ConnectionErrorDNS,
		},
		{
			name: "unknown",
			err:  errors.New("something odd"),
			want: ConnectionErrorUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(tt.err, "https://example.com")
			if result == nil {
				t.Fatal("expected non-nil result")
			}
			if result.Type != tt.want {
				t.Errorf("expected %v, got %v", tt.want, result.Type)
			}
		})
	}
}

func TestSessionError(t *testing.T) {
	transportErr := &url.Error{Op: "Post", URL: "https://auth.example.com/oauth/token", Err: errors.New("connection refused")}

	tests := []struct {
		name       string
		err        error
		hadSession bool
		check      func(error) bool
	}{
		{
			name:  "nil",
			err:   nil,
			check: func(err error) bool { return err == nil },
		},
		{
			name:  "never signed in",
			err:   auth.ErrNoSession,
			check: func(err error) bool { return errors.Is(err, &AuthRequiredError{}) },
		},
		{
			name:       "refresh failed",
			err:        fmt.Errorf("%w: refresh failed", auth.ErrNoSession),
			hadSession: true,
			check:      func(err error) bool { return errors.Is(err, &AuthExpiredError{}) },
		},
		{
			name:       "network",
			err:        transportErr,
			hadSession: true,
			check:      func(err error) bool { return errors.Is(err, &ConnectionError{}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionError(tt.err, tt.hadSession, "https://auth.example.com")
			if !tt.check(got) {
				t.Errorf("unexpected conversion: %T %v", got, got)
			}
		})
	}
}

func TestLoginError(t *testing.T) {
	if LoginError(nil, "") != nil {
		t.Error("expected nil for nil error")
	}

	err := LoginError(auth.ErrAuthTimeout, "https://auth.example.com")
	if !errors.Is(err, &AuthFailedError{}) {
		t.Errorf("expected AuthFailedError, got %T", err)
	}

	exchangeErr := &auth.ExchangeError{Grant: "authorization_code", StatusCode: 400, Code: "invalid_grant"}
	err = LoginError(fmt.Errorf("exchange: %w", exchangeErr), "https://auth.example.com")
	if !errors.Is(err, &AuthFailedError{}) {
		t.Errorf("expected AuthFailedError for a rejected grant, got %T", err)
	}

	err = LoginError(&url.Error{Op: "Post", URL: "https://auth.example.com", Err: errors.New("no route to host")}, "https://auth.example.com")
	if !errors.Is(err, &ConnectionError{}) {
		t.Errorf("expected ConnectionError, got %T", err)
	}
}
