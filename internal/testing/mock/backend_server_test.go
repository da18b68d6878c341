package mock

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func startBackend(t *testing.T, cfg BackendServerConfig) *BackendServer {
	t.Helper()
	srv := NewBackendServer(cfg)
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Failed to start backend: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func postForm(t *testing.T, endpoint string, form url.Values) (int, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(endpoint, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", endpoint, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func TestBackendServer_StartStop(t *testing.T) {
	srv := NewBackendServer(BackendServerConfig{})

	baseURL, err := srv.Start()
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if !strings.HasPrefix(baseURL, "http://127.0.0.1:") {
		t.Errorf("Expected loopback URL, got %s", baseURL)
	}

	again, err := srv.Start()
	if err != nil || again != baseURL {
		t.Errorf("Second Start should be a no-op, got %s, %v", again, err)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
}

func TestBackendServer_StopRightAfterStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		srv := NewBackendServer(BackendServerConfig{})
		if _, err := srv.Start(); err != nil {
			t.Fatalf("Failed to start: %v", err)
		}
		if err := srv.Stop(context.Background()); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	}

	srv := NewBackendServer(BackendServerConfig{})
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	_ = srv.Stop(context.Background())
	if _, err := srv.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	resp, err := http.Get(srv.UsageURL())
	if err != nil {
		t.Fatalf("Restarted server not reachable: %v", err)
	}
	resp.Body.Close()
}

func TestBackendServer_AuthCodeWithPKCE(t *testing.T) {
	srv := startBackend(t, BackendServerConfig{TokenLifetime: time.Hour})

	verifier := oauth2.GenerateVerifier()
	redirectURI := "http://127.0.0.1:8765/callback"
	code := srv.IssueCode(redirectURI, oauth2.S256ChallengeFromVerifier(verifier))

	status, body := postForm(t, srv.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {srv.ClientID()},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	if body["access_token"] == "" || body["refresh_token"] == "" {
		t.Errorf("Expected tokens in response, got %v", body)
	}
	if body["expires_in"] != float64(3600) {
		t.Errorf("Expected expires_in 3600, got %v", body["expires_in"])
	}
	user, _ := body["user"].(map[string]any)
	if user["userId"] != "user-123" {
		t.Errorf("Expected user-123, got %v", user)
	}

	// Codes are single use.
	status, body = postForm(t, srv.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
		"client_id":     {srv.ClientID()},
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("Expected invalid_grant on reuse, got %d %v", status, body)
	}

	if got := srv.TokenRequests("authorization_code"); got != 2 {
		t.Errorf("Expected 2 authorization_code requests, got %d", got)
	}
}

func TestBackendServer_PKCEMismatch(t *testing.T) {
	srv := startBackend(t, BackendServerConfig{})

	redirectURI := "http://127.0.0.1:8765/callback"
	code := srv.IssueCode(redirectURI, oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))

	status, body := postForm(t, srv.TokenURL(), url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {oauth2.GenerateVerifier()},
		"redirect_uri":  {redirectURI},
		"client_id":     {srv.ClientID()},
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("Expected invalid_grant, got %d %v", status, body)
	}
}

func TestBackendServer_RefreshRotation(t *testing.T) {
	srv := startBackend(t, BackendServerConfig{RotateRefreshTokens: true})
	rt := srv.IssueRefreshToken()

	status, body := postForm(t, srv.TokenURL(), url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rt},
		"client_id":     {srv.ClientID()},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", status, body)
	}
	if body["refresh_token"] == rt {
		t.Error("Expected a rotated refresh token")
	}

	status, body = postForm(t, srv.TokenURL(), url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rt},
		"client_id":     {srv.ClientID()},
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("Expected old refresh token to be rejected, got %d %v", status, body)
	}
}

func TestBackendServer_AuthorizeAutoApprove(t *testing.T) {
	srv := startBackend(t, BackendServerConfig{AutoApprove: true})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {srv.ClientID()},
		"redirect_uri":          {"http://127.0.0.1:9999/callback"},
		"state":                 {"abc"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())},
		"code_challenge_method": {"S256"},
	}
	resp, err := client.Get(srv.AuthorizeURL() + "?" + q.Encode())
	if err != nil {
		t.Fatalf("GET authorize failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Bad Location: %v", err)
	}
	if loc.Query().Get("state") != "abc" || loc.Query().Get("code") == "" {
		t.Errorf("Expected code and echoed state, got %s", loc.RawQuery)
	}

	srv.SetErrors(&ErrorSimulation{CallbackError: "access_denied"})
	resp, err = client.Get(srv.AuthorizeURL() + "?" + q.Encode())
	if err != nil {
		t.Fatalf("GET authorize failed: %v", err)
	}
	resp.Body.Close()
	loc, _ = url.Parse(resp.Header.Get("Location"))
	if loc.Query().Get("error") != "access_denied" || loc.Query().Get("code") != "" {
		t.Errorf("Expected access_denied without code, got %s", loc.RawQuery)
	}
}

func TestBackendServer_UsageRequiresBearer(t *testing.T) {
	clock := NewMockClock(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	srv := startBackend(t, BackendServerConfig{
		Clock:     clock,
		UsageJSON: `{"tier":"PRO"}`,
	})

	resp, err := http.Get(srv.UsageURL())
	if err != nil {
		t.Fatalf("GET usage failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}

	token := srv.IssueAccessToken(time.Minute)
	req, _ := http.NewRequest(http.MethodGet, srv.UsageURL(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET usage failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"tier":"PRO"}` {
		t.Errorf("Expected usage document, got %d %s", resp.StatusCode, body)
	}

	clock.Advance(2 * time.Minute)
	if srv.ValidateToken(token) {
		t.Error("Expected token to expire with the mock clock")
	}
	if got := srv.UsageRequests(); got != 2 {
		t.Errorf("Expected 2 usage requests, got %d", got)
	}
}

func TestBackendServer_Revoke(t *testing.T) {
	srv := startBackend(t, BackendServerConfig{})
	rt := srv.IssueRefreshToken()

	status, _ := postForm(t, srv.RevokeURL(), url.Values{"token": {rt}})
	if status != http.StatusOK {
		t.Errorf("Expected 200, got %d", status)
	}
	if got := srv.Revocations(); len(got) != 1 || got[0] != rt {
		t.Errorf("Expected revocation of %s, got %v", rt, got)
	}

	srv.SetErrors(&ErrorSimulation{RevokeStatus: http.StatusServiceUnavailable})
	status, _ = postForm(t, srv.RevokeURL(), url.Values{"token": {"x"}})
	if status != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", status)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractBearerToken(tt.header); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
