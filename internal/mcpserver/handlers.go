package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"notebroker/internal/auth"
	"notebroker/internal/usage"
	pkgauth "notebroker/pkg/auth"
	"notebroker/pkg/logging"
)

// AuthenticateResponse is the authenticate tool's result.
type AuthenticateResponse struct {
	Status       string    `json:"status"`
	LoginURL     string    `json:"login_url,omitempty"`
	ClickableURL string    `json:"clickable_url,omitempty"`
	Deadline     time.Time `json:"deadline,omitzero"`
	Email        string    `json:"email,omitempty"`
	Message      string    `json:"message"`
}

// StatusResponse is the auth_status tool's result.
type StatusResponse struct {
	State         pkgauth.State `json:"state"`
	Authenticated bool          `json:"authenticated"`
	UserID        string        `json:"user_id,omitempty"`
	Email         string        `json:"email,omitempty"`
	Tier          pkgauth.Tier  `json:"tier,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at,omitzero"`
	ExpiresIn     string        `json:"expires_in,omitempty"`
	LoginURL      string        `json:"login_url,omitempty"`
}

// SignOutResponse is the sign_out tool's result.
type SignOutResponse struct {
	SignedOut bool   `json:"signed_out"`
	Revoked   bool   `json:"revoked"`
	Message   string `json:"message"`
}

func (s *Server) handleAuthenticate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.broker.GetStatus()
	if st.State == pkgauth.StateAuthenticated && st.Authenticated {
		return jsonResult(AuthenticateResponse{
			Status:  "authenticated",
			Email:   st.Email,
			Message: fmt.Sprintf("Already signed in as %s (%s plan).", st.Email, st.Tier),
		})
	}

	pending, err := s.broker.StartAuthentication(ctx)
	switch {
	case errors.Is(err, auth.ErrAuthInProgress):
		url := s.broker.GetStatus().LoginURL
		return jsonResult(AuthenticateResponse{
			Status:       "in_progress",
			LoginURL:     url,
			ClickableURL: clickable(url),
			Message:      "A sign-in is already waiting for you. Open " + clickable(url) + " to finish it.",
		})
	case errors.Is(err, auth.ErrBrokerUnavailable):
		return mcp.NewToolResultError("Could not open a local port for the sign-in callback. " +
			"Close other notebroker sign-in windows and try again."), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start authentication: %v", err)), nil
	}

	go s.awaitAuthentication(pending)

	return jsonResult(AuthenticateResponse{
		Status:       "auth_required",
		LoginURL:     pending.LoginURL,
		ClickableURL: clickable(pending.LoginURL),
		Deadline:     pending.Deadline,
		Message: fmt.Sprintf("Open %s to sign in. The link is valid for %s. "+
			"Call auth_status to check when sign-in has completed.",
			clickable(pending.LoginURL), pkgauth.FormatRemaining(time.Until(pending.Deadline))),
	})
}

// awaitAuthentication drops cached usage once an attempt settles, so the
// next check reflects the signed-in account.
func (s *Server) awaitAuthentication(p *auth.PendingAuth) {
	st, err := p.Result()
	if err != nil {
		logging.Warn("MCP", "Sign-in did not complete: %v", err)
		return
	}
	if s.gate != nil {
		s.gate.Invalidate()
	}
	logging.Info("MCP", "Sign-in completed for %s tier", st.Tier)
}

func (s *Server) handleSignOut(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := s.broker.SignOut(ctx)
	if s.gate != nil {
		s.gate.Invalidate()
	}

	resp := SignOutResponse{SignedOut: res.HadSession, Revoked: res.Revoked}
	switch {
	case !res.HadSession:
		resp.Message = "No user was signed in."
	case res.RevokeErr != nil:
		resp.Message = "Signed out locally. The server could not be reached to revoke the session."
	default:
		resp.Message = "Signed out."
	}
	return jsonResult(resp)
}

func (s *Server) handleAuthStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(statusResponse(s.broker.GetStatus(), time.Now()))
}

func statusResponse(st pkgauth.Status, now time.Time) StatusResponse {
	resp := StatusResponse{
		State:         st.State,
		Authenticated: st.Authenticated,
		UserID:        st.UserID,
		Email:         st.Email,
		Tier:          st.Tier,
		ExpiresAt:     st.ExpiresAt,
		LoginURL:      st.LoginURL,
	}
	if !st.ExpiresAt.IsZero() {
		resp.ExpiresIn = st.ExpiresIn(now)
	}
	return resp
}

func (s *Server) handleCheckUsage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError("operation argument is required"), nil
	}
	op, err := usage.ParseOperation(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.gate == nil {
		return mcp.NewToolResultError(errUsageNotConfigured), nil
	}
	return jsonResult(s.gate.CheckUsage(ctx, op))
}

func clickable(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf("[Sign in to notebroker](%s)", url)
}
