// Package oauth holds the OAuth 2.0 primitives shared by the broker and the
// CLI: PKCE attempt generation (RFC 7636), the token set returned by the
// authorization server, and a log-safe token wrapper.
//
// Nothing in this package performs I/O. The flow itself (listener, exchange,
// persistence) lives in internal/auth.
//
// # Usage
//
//	attempt, err := oauth.NewAttempt()
//	if err != nil {
//	    return err
//	}
//	// attempt.State is echoed through the redirect and compared on callback.
//	// attempt.CodeChallenge goes into the authorize URL.
//	// attempt.CodeVerifier stays local and is sent only to the token endpoint.
package oauth
