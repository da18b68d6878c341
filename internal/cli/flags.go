package cli

import (
	"notebroker/internal/config"

	"github.com/spf13/cobra"
)

// CommandFlags holds the flag values shared by notebroker commands.
type CommandFlags struct {
	// OutputFormat is table, json or yaml.
	OutputFormat string
	// Quiet suppresses the spinner and non-essential output.
	Quiet bool
	// Debug enables debug logging on stderr.
	Debug bool
	// ConfigPath is the configuration directory.
	ConfigPath string
}

// RegisterCommonFlags registers the persistent flags on the root command.
//
// The registered flags are:
//   - --output/-o: Output format (table, json, yaml), default: "table"
//   - --quiet/-q: Suppress non-essential output
//   - --debug: Enable debug logging
//   - --config-path: Configuration directory (env: NOTEBROKER_CONFIG_DIR)
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, json, yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config-path", defaultConfigPath(), "Configuration directory (env: NOTEBROKER_CONFIG_DIR)")
}

func defaultConfigPath() string {
	dir, err := config.GetDefaultConfigPath()
	if err != nil {
		return ""
	}
	return dir
}

// Format parses the --output value.
func (f *CommandFlags) Format() (OutputFormat, error) {
	return ParseOutputFormat(f.OutputFormat)
}
