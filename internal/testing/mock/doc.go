// Package mock provides test doubles for the notebroker backend.
//
// BackendServer is an in-process HTTP server bound to 127.0.0.1 that plays
// the role of the productivity backend:
//
//   - /oauth/authorize validates the PKCE parameters and, with AutoApprove,
//     redirects straight back to the loopback callback with a code and the
//     echoed state
//   - /oauth/token redeems authorization codes (verifying S256 PKCE and the
//     redirect_uri) and refresh tokens, optionally rotating them
//   - /oauth/revoke records revocations
//   - /api/usage serves a configurable usage document to valid bearer tokens
//
// ErrorSimulation forces the failure paths: forged state, provider errors,
// invalid_grant, slow token responses and failing revocation. Request
// counters let tests assert that, for example, a state mismatch never reaches
// the token endpoint.
//
// MockClock drives both the server's token expiry and the auth Manager, so a
// test can move a session into its refresh window without sleeping.
//
// Usage:
//
//	srv := mock.NewBackendServer(mock.BackendServerConfig{AutoApprove: true})
//	baseURL, err := srv.Start()
//	if err != nil {
//		t.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
package mock
