package oauth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSet_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		window    time.Duration
		want      bool
	}{
		{"zero expiry counts as expired", time.Time{}, 0, true},
		{"already expired", now.Add(-time.Minute), 0, true},
		{"valid without buffer", now.Add(2 * time.Hour), 0, false},
		{"inside 24h buffer", now.Add(2 * time.Hour), 24 * time.Hour, true},
		{"outside 24h buffer", now.Add(48 * time.Hour), 24 * time.Hour, false},
		{"exactly at buffer edge", now.Add(24 * time.Hour), 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := &TokenSet{AccessToken: "a", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, ts.ExpiresWithin(now, tt.window))
		})
	}
}

func TestTokenSet_ToOAuth2Token(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	ts := &TokenSet{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: exp}

	tok := ts.ToOAuth2Token()
	assert.Equal(t, "acc", tok.AccessToken)
	assert.Equal(t, "ref", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))
	assert.Equal(t, []string(nil), ts.Scopes())

	ts.Scope = "notes:read notes:write"
	assert.Equal(t, []string{"notes:read", "notes:write"}, ts.Scopes())
}

func TestRedactedToken(t *testing.T) {
	tok := NewRedactedToken("super-secret")

	assert.Equal(t, "super-secret", tok.Value())
	assert.False(t, tok.IsEmpty())
	assert.Equal(t, "[REDACTED]", fmt.Sprint(tok))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", tok))
	assert.NotContains(t, fmt.Sprintf("%#v", tok), "super-secret")

	data, err := json.Marshal(struct {
		Token RedactedToken `json:"token"`
	}{tok})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("refresh", "token", tok)
	assert.NotContains(t, sb.String(), "super-secret")
	assert.Contains(t, sb.String(), "token=[REDACTED]")

	assert.True(t, NewRedactedToken("").IsEmpty())
	assert.Equal(t, "", NewRedactedToken("").String())
}
