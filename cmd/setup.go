package cmd

import (
	"io"

	"notebroker/internal/auth"
	"notebroker/internal/cli"
	"notebroker/internal/config"
	"notebroker/pkg/logging"

	"github.com/spf13/cobra"
)

// openBrowser launches the login page. Tests replace it with a fake browser.
var openBrowser = auth.OpenBrowser

// loadConfig loads configuration from --config-path, falling back to the
// default directory.
func loadConfig() (config.Config, error) {
	path := rootFlags.ConfigPath
	if path == "" {
		var err error
		path, err = config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.LoadConfig(path)
}

// newManager builds a session manager from configuration.
func newManager(cfg config.Config) (*auth.Manager, error) {
	return auth.NewManagerFromConfig(cfg, auth.SetupOptions{OpenBrowser: openBrowser})
}

// applyLogConfig switches to the configured level and format unless --debug
// already asked for debug output.
func applyLogConfig(cfg config.Config, output io.Writer) {
	if rootFlags.Debug {
		return
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logging.Warn("Config", "%v, using info", err)
	}
	logging.Init(level, output, cfg.Logging.Format == "json")
}

func newPrinter(cmd *cobra.Command) (*cli.Printer, error) {
	format, err := rootFlags.Format()
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(cmd.OutOrStdout(), format), nil
}
