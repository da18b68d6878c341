package cmd

import (
	"fmt"

	"notebroker/internal/cli"
	pkgauth "notebroker/pkg/auth"

	"github.com/spf13/cobra"
)

// Login-specific flags
var loginForce bool

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	Long: `Sign in to the notes backend using the browser.

A local page on 127.0.0.1 is opened in your browser; after you sign in there
the backend redirects back to it and the session is stored encrypted in the
configuration directory. If the browser does not open, visit the printed link.

Examples:
  notebroker auth login                # Sign in unless already signed in
  notebroker auth login --force        # Sign in again, replacing the session`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginForce, "force", false, "Sign in again even if a session exists")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := newManager(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if st := m.GetStatus(); st.Authenticated && !loginForce {
		authPrint(out, "Already signed in as %s (%s plan). Use --force to sign in again.\n", st.Email, st.Tier)
		return nil
	}

	ctx := commandContext(cmd)
	pending, err := m.StartAuthentication(ctx)
	if err != nil {
		return cli.LoginError(err, cfg.OAuth.AuthorizeURL)
	}

	authPrint(out, "Opening the browser to sign in. If it does not open, visit:\n\n  %s\n\n", pending.LoginURL)

	var st pkgauth.Status
	err = cli.RunWithSpinner(cmd.ErrOrStderr(), rootFlags.Quiet, "Waiting for sign-in in the browser...", func() error {
		var err error
		st, err = pending.Wait(ctx)
		return err
	})
	if ctx.Err() != nil {
		pending.Cancel()
		<-pending.Done()
	}
	if err != nil {
		return cli.LoginError(err, cfg.OAuth.AuthorizeURL)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Signed in as %s (%s plan).", st.Email, st.Tier)))
	return nil
}
