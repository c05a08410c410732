package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envName    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "pipemedic",
	Short: "Self-healing runner for CSV pipelines",
	Long: `pipemedic runs a declarative CSV pipeline and, when it breaks on schema
drift, asks a language model for a corrected pipeline definition. Each
candidate is verified in a dry run before it replaces the live source; after
three failed attempts the original source is restored from its snapshot.

Every session is appended to a JSON lines metrics log that feeds the
terminal report, the HTML dashboard and the Prometheus textfile export.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with a context that commands use for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./pipemedic.yaml or .pipemedic/pipemedic.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment name; selects the pipemedic.<env>.yaml overlay")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
}
