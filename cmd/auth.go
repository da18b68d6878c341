package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"notebroker/internal/cli"

	"github.com/spf13/cobra"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the notebroker session",
	Long: `Sign in to the notes backend, inspect or refresh the stored session, and
sign out.

Examples:
  notebroker auth login                # Sign in through the browser
  notebroker auth status               # Show who is signed in and until when
  notebroker auth refresh              # Force a token refresh
  notebroker auth logout               # Revoke and remove the stored session`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored session",
	Long: `Revoke the refresh token with the backend and delete the local credential
file. The local session is removed even when the backend cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the stored refresh token for a new access token now, regardless
of how long the current one has left.`,
	Args: cobra.NoArgs,
	RunE: runAuthRefresh,
}

// authTimeout bounds network calls made by the logout and refresh commands.
const authTimeout = 30 * time.Second

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(w io.Writer, format string, args ...interface{}) {
	if !rootFlags.Quiet {
		fmt.Fprintf(w, format, args...)
	}
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := newManager(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), authTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	res := m.SignOut(ctx)
	switch {
	case !res.HadSession:
		authPrint(out, "No user was signed in.\n")
	case res.RevokeErr != nil:
		authPrint(out, "%s\n", cli.FormatWarning("Signed out locally. The backend could not be reached to revoke the session."))
	default:
		authPrint(out, "%s\n", cli.FormatSuccess("Signed out."))
	}
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := newManager(cfg)
	if err != nil {
		return err
	}

	hadSession := m.GetStatus().Authenticated
	ctx, cancel := context.WithTimeout(commandContext(cmd), authTimeout)
	defer cancel()

	err = cli.RunWithSpinner(cmd.ErrOrStderr(), rootFlags.Quiet, "Refreshing session...", func() error {
		_, err := m.ForceRefresh(ctx)
		return err
	})
	if err != nil {
		return cli.SessionError(err, hadSession, cfg.OAuth.TokenURL)
	}

	st := m.GetStatus()
	authPrint(cmd.OutOrStdout(), "%s\n", cli.FormatSuccess(fmt.Sprintf("Session refreshed, expires in %s.", st.ExpiresIn(time.Now()))))
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
