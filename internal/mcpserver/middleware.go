package mcpserver

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"notebroker/internal/auth"
	"notebroker/internal/usage"
	"notebroker/pkg/logging"
)

type contextKey int

const (
	accessTokenKey contextKey = iota
	decisionKey
)

// SessionSource hands out valid access tokens.
type SessionSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// AccessTokenFromContext returns the token RequireSession stored for the
// wrapped handler.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(accessTokenKey).(string)
	return tok, ok && tok != ""
}

// DecisionFromContext returns the usage decision RequireQuota made for the
// wrapped handler.
func DecisionFromContext(ctx context.Context) (usage.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(usage.Decision)
	return d, ok
}

// RequireSession runs the handler only with a valid access token, which it
// places in the context. It never starts a sign-in: without a session the
// tool result asks the user to call authenticate.
func RequireSession(src SessionSource) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			token, err := src.GetValidAccessToken(ctx)
			switch {
			case errors.Is(err, auth.ErrNoSession):
				return mcp.NewToolResultError("Not signed in, or the session has expired. " +
					"Call the authenticate tool to sign in."), nil
			case err != nil:
				logging.Error("MCP", err, "Could not obtain an access token for %s", request.Params.Name)
				return mcp.NewToolResultError("Could not reach the notes backend to validate the session. Try again shortly."), nil
			}
			return next(context.WithValue(ctx, accessTokenKey, token), request)
		}
	}
}

const errUsageNotConfigured = "usage checks are not configured"

// RequireQuota runs the handler only when op is within quota. A denial
// becomes the tool result; a low-quota warning is appended to the handler's
// result.
func RequireQuota(gate UsageChecker, op usage.Operation) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if gate == nil {
				return mcp.NewToolResultError(errUsageNotConfigured), nil
			}
			d := gate.CheckUsage(ctx, op)
			if !d.Allowed {
				return mcp.NewToolResultError(d.Message), nil
			}

			result, err := next(context.WithValue(ctx, decisionKey, d), request)
			if err != nil || result == nil || !d.Warning {
				return result, err
			}
			result.Content = append(result.Content, mcp.NewTextContent("Note: "+d.Message))
			return result, nil
		}
	}
}
