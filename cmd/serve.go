package cmd

import (
	"fmt"

	"notebroker/internal/auth"
	"notebroker/internal/mcpserver"
	"notebroker/internal/usage"
	"notebroker/pkg/logging"

	"github.com/spf13/cobra"
)

// serveCmd runs notebroker as an MCP server on stdin/stdout.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the broker as MCP tools over stdio",
	Long: `Starts an MCP server on stdin/stdout exposing the authenticate, sign_out,
auth_status and check_usage tools.

Add it to your MCP client configuration, for example:

  {
    "mcpServers": {
      "notes": { "command": "notebroker", "args": ["serve"] }
    }
  }

The stored session is shared with the auth commands: signing in from a
terminal with 'notebroker auth login' is picked up by a running server.
Logs are written to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyLogConfig(cfg, cmd.ErrOrStderr())

	ctx := commandContext(cmd)

	m, err := newManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	gate := usage.NewGateFromConfig(ctx, cfg, m.TokenSource(ctx), m)

	// A session swapped in by another process belongs to a possibly different
	// account, so its cached usage must not be reused.
	watcher := auth.WatchManager(m, cfg.CredentialsPath(), gate.Invalidate)
	if err := watcher.Start(); err != nil {
		logging.Warn("Serve", "Credential file watching disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	srv := mcpserver.New(m, gate, GetVersion())

	st := m.GetStatus()
	logging.Info("Serve", "Serving MCP over stdio for %s (session: %s)", cfg.Backend.BaseURL, st.State)
	return srv.Start(ctx)
}
