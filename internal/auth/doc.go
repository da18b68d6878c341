// Package auth is the local authentication broker: a browser-delegated OAuth
// 2.0 Authorization Code flow with PKCE, terminated by a loopback callback
// listener, plus the lifecycle of the resulting session.
//
// # Components
//
//   - CallbackServer binds 127.0.0.1 on the first free candidate port
//     (preferred, fallbacks, then optionally ephemeral), serves the login
//     page, redirects to the authorization endpoint and accepts exactly one
//     callback. Each provider has its own route; all routes normalise to
//     CallbackParams before a shared validator checks error, state and code
//     in that order.
//   - Exchanger performs the authorization_code and refresh_token grants and
//     revocation. Upstream error bodies are preserved in ExchangeError.
//   - CredentialStore encrypts the session with AES-256-GCM and writes it
//     atomically with owner-only permissions. Unreadable files count as no
//     session.
//   - Manager owns the session. It rejects overlapping attempts, refreshes
//     ahead of expiry through a single shared exchange, clears the session
//     when a refresh fails, and signs out locally even when revocation fails.
//   - CredentialWatcher reloads the Manager when another process rewrites
//     the credential file.
//
// # Usage
//
//	m, err := auth.NewManagerFromConfig(cfg, auth.SetupOptions{})
//	if err != nil {
//	    return err
//	}
//
//	status, err := m.Authenticate(ctx) // opens the browser, blocks
//
//	token, err := m.GetValidAccessToken(ctx)
//	if errors.Is(err, auth.ErrNoSession) {
//	    // ask the user to authenticate again
//	}
//
// The manager never opens a browser implicitly; only Authenticate and
// StartAuthentication do.
package auth
