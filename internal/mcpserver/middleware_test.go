package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebroker/internal/auth"
	"notebroker/internal/usage"
)

type tokenSource struct {
	token string
	err   error
}

func (s tokenSource) GetValidAccessToken(context.Context) (string, error) {
	return s.token, s.err
}

func recordingHandler(called *bool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		*called = true
		tok, _ := AccessTokenFromContext(ctx)
		return mcp.NewToolResultText("ran with " + tok), nil
	}
}

func TestRequireSession(t *testing.T) {
	tests := []struct {
		name       string
		src        tokenSource
		wantCalled bool
		wantError  bool
		wantText   string
	}{
		{
			name:       "valid session",
			src:        tokenSource{token: "access-1"},
			wantCalled: true,
			wantText:   "ran with access-1",
		},
		{
			name:      "no session",
			src:       tokenSource{err: auth.ErrNoSession},
			wantError: true,
			wantText:  "Call the authenticate tool",
		},
		{
			name:      "refresh failed",
			src:       tokenSource{err: fmt.Errorf("%w: refresh failed: boom", auth.ErrNoSession)},
			wantError: true,
			wantText:  "Call the authenticate tool",
		},
		{
			name:      "other error",
			src:       tokenSource{err: errors.New("disk on fire")},
			wantError: true,
			wantText:  "Try again shortly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := RequireSession(tt.src)(recordingHandler(&called))

			result := callTool(t, h, nil)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantError, result.IsError)
			assert.Contains(t, resultText(t, result), tt.wantText)
		})
	}
}

func TestRequireQuota(t *testing.T) {
	t.Run("denied never runs the handler", func(t *testing.T) {
		gate := &stubGate{decisions: map[usage.Operation]usage.Decision{
			usage.OpExtraction: {Allowed: false, Message: "You have used 3/3 extractions this week"},
		}}
		called := false
		h := RequireQuota(gate, usage.OpExtraction)(recordingHandler(&called))

		result := callTool(t, h, nil)
		assert.False(t, called)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "3/3 extractions")
	})

	t.Run("allowed passes the decision through", func(t *testing.T) {
		gate := &stubGate{}
		var seen usage.Decision
		h := RequireQuota(gate, usage.OpScoring)(func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			seen, _ = DecisionFromContext(ctx)
			return mcp.NewToolResultText("scored"), nil
		})

		result := callTool(t, h, nil)
		assert.False(t, result.IsError)
		assert.True(t, seen.Allowed)
		assert.Len(t, result.Content, 1)
	})

	t.Run("warning is appended", func(t *testing.T) {
		gate := &stubGate{decisions: map[usage.Operation]usage.Decision{
			usage.OpScoring: {Allowed: true, Warning: true, Remaining: 2, Limit: 10, Message: "2 of 10 scorings left"},
		}}
		called := false
		h := RequireQuota(gate, usage.OpScoring)(recordingHandler(&called))

		result := callTool(t, h, nil)
		assert.True(t, called)
		require.Len(t, result.Content, 2)
		warning, ok := result.Content[1].(mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, warning.Text, "2 of 10 scorings left")
	})
}

func TestServer_MeteredToolChain(t *testing.T) {
	gate := &stubGate{}
	s := New(newManager(t, nil), gate, "test")

	called := false
	s.AddMeteredTool(mcp.NewTool("extract_action_items"), usage.OpExtraction, recordingHandler(&called))

	result := callTool(t, s.meteredHandler(usage.OpExtraction, recordingHandler(&called)), nil)
	assert.True(t, result.IsError)
	assert.False(t, called)
	assert.Equal(t, 0, gate.checks, "quota is not checked without a session")
}

func TestServer_MeteredToolWithoutGate(t *testing.T) {
	s := New(newManager(t, validSession()), nil, "test")

	called := false
	result := callTool(t, s.meteredHandler(usage.OpScoring, recordingHandler(&called)), nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "usage checks are not configured")
	assert.False(t, called)
}
