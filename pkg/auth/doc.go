// Package auth holds the token-free authentication status types shared by
// the session manager, the MCP tools and the CLI.
//
// Nothing here carries a credential; a Status is safe to print, log or
// return to an MCP client.
package auth
