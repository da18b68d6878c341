package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"notebroker/internal/auth"
	"notebroker/internal/usage"
	pkgauth "notebroker/pkg/auth"
)

// Broker is the session surface the MCP layer uses. *auth.Manager
// implements it.
type Broker interface {
	StartAuthentication(ctx context.Context) (*auth.PendingAuth, error)
	SignOut(ctx context.Context) auth.SignOutResult
	GetStatus() pkgauth.Status
	GetValidAccessToken(ctx context.Context) (string, error)
}

// UsageChecker is the gate surface the MCP layer uses. *usage.Gate
// implements it.
type UsageChecker interface {
	CheckUsage(ctx context.Context, op usage.Operation) usage.Decision
	Invalidate()
}

// Server exposes the broker as MCP tools over stdio and lets callers register
// further tools behind the session and quota checks.
type Server struct {
	broker    Broker
	gate      UsageChecker
	mcpServer *server.MCPServer
}

// New creates the MCP server and registers the broker tools.
func New(broker Broker, gate UsageChecker, version string) *Server {
	mcpServer := server.NewMCPServer(
		"notebroker",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		broker:    broker,
		gate:      gate,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

// Start serves MCP over stdin/stdout until the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// AddSessionTool registers a tool that requires a signed-in user.
func (s *Server) AddSessionTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, s.sessionHandler(handler))
}

// AddMeteredTool registers a tool that requires a signed-in user and quota
// for op.
func (s *Server) AddMeteredTool(tool mcp.Tool, op usage.Operation, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, s.meteredHandler(op, handler))
}

func (s *Server) sessionHandler(handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return RequireSession(s.broker)(handler)
}

// meteredHandler checks the session before the quota, so a signed-out user
// is told to sign in rather than shown FREE limits.
func (s *Server) meteredHandler(op usage.Operation, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return RequireSession(s.broker)(RequireQuota(s.gate, op)(handler))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("authenticate",
		mcp.WithDescription("Sign in to the notes backend. Returns a link to open in the browser; "+
			"sign-in completes in the background."),
	), s.handleAuthenticate)

	s.mcpServer.AddTool(mcp.NewTool("sign_out",
		mcp.WithDescription("Sign out, revoke the stored session and remove local credentials"),
	), s.handleSignOut)

	s.mcpServer.AddTool(mcp.NewTool("auth_status",
		mcp.WithDescription("Show whether a user is signed in, who, on which plan, and when the session expires"),
	), s.handleAuthStatus)

	s.mcpServer.AddTool(mcp.NewTool("check_usage",
		mcp.WithDescription("Check remaining quota for an AI operation"),
		mcp.WithString("operation",
			mcp.Required(),
			mcp.Description("One of extraction, conversion, scoring"),
			mcp.Enum(string(usage.OpExtraction), string(usage.OpConversion), string(usage.OpScoring)),
		),
	), s.handleCheckUsage)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
