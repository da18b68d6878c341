// Package logging provides subsystem-tagged logging for notebroker on top of
// log/slog.
//
// Every entry carries a subsystem attribute ("Auth", "Usage", "MCP", ...) so
// output from the broker, the usage gate and the MCP server can be told apart
// in one stream. Output always goes to stderr because stdout carries the MCP
// stdio protocol when running `notebroker serve`.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Auth", "Callback listener bound on port %d", port)
//	logging.Error("Auth", err, "Token refresh failed")
//
// Security events use Audit, which emits a WARN line prefixed with
// SECURITY_AUDIT and an event attribute:
//
//	logging.Audit("state_mismatch", "attempt_id", attempt.ID)
//
// Code that prefers key/value attributes can take a tagged *slog.Logger:
//
//	log := logging.For("Usage")
//	log.Debug("snapshot fetched", "tier", snap.Tier)
//
// Tokens must never be passed as plain strings; wrap them in
// oauth.RedactedToken first.
package logging
