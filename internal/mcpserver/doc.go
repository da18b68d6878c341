// Package mcpserver exposes the authentication broker and usage gate to MCP
// clients over stdio.
//
// Tools:
//
//   - authenticate: start a browser sign-in and return the local login link
//   - sign_out: revoke and remove the stored session
//   - auth_status: who is signed in, on which plan, and for how long
//   - check_usage: remaining quota for extraction, conversion or scoring
//
// Other tools are registered through AddSessionTool and AddMeteredTool,
// which wrap their handlers in RequireSession and RequireQuota so the
// handlers never deal with tokens or limits themselves.
package mcpserver
