package cmd

import (
	"context"

	"notebroker/internal/cli"
	"notebroker/internal/usage"

	"github.com/spf13/cobra"
)

// usageCmd shows the usage decision for one or all operations.
var usageCmd = &cobra.Command{
	Use:   "usage [operation]",
	Short: "Show remaining quota for AI operations",
	Long: `Show how much of the current plan's quota is used for extraction,
conversion and scoring, and when each window resets.

Examples:
  notebroker usage                     # All operations
  notebroker usage extraction          # One operation
  notebroker usage scoring -o json`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(usage.OpExtraction), string(usage.OpConversion), string(usage.OpScoring)},
	RunE:      runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	ops := usage.Operations
	if len(args) == 1 {
		op, err := usage.ParseOperation(args[0])
		if err != nil {
			return err
		}
		ops = []usage.Operation{op}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := newManager(cfg)
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), cfg.Backend.RequestTimeout)
	defer cancel()

	// A usage check needs a session; report that instead of FREE defaults.
	hadSession := m.GetStatus().Authenticated
	if _, err := m.GetValidAccessToken(ctx); err != nil {
		return cli.SessionError(err, hadSession, cfg.OAuth.TokenURL)
	}

	gate := usage.NewGateFromConfig(ctx, cfg, m.TokenSource(ctx), m)

	decisions := make([]usage.Decision, 0, len(ops))
	err = cli.RunWithSpinner(cmd.ErrOrStderr(), rootFlags.Quiet, "Checking usage...", func() error {
		for _, op := range ops {
			decisions = append(decisions, gate.CheckUsage(ctx, op))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return p.Decisions(decisions)
}
