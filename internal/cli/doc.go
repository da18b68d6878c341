// Package cli holds the terminal-facing pieces of the notebroker commands.
//
// Errors from the auth and usage packages are converted into CLI error types
// (AuthRequiredError, AuthExpiredError, AuthFailedError, ConnectionError)
// whose messages tell the user what to run next. cmd maps these types to
// process exit codes.
//
// Printer renders session status and usage decisions as go-pretty tables, or
// as JSON/YAML for scripting. RunWithSpinner shows progress while waiting on
// the network or the browser.
package cli
