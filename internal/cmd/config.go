package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Configuration is read from built-in defaults, pipemedic.yaml, the
pipemedic.<env>.yaml overlay, a .env file and PIPEMEDIC_* environment
variables, in increasing order of precedence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long:  `Print the resolved configuration as YAML. Secrets are never printed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(a.cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(a.cfg.ConfigFiles) == 0 {
			fmt.Fprintln(out, "# no config file found, defaults and environment only") //nolint:errcheck
		}
		for _, f := range a.cfg.ConfigFiles {
			fmt.Fprintf(out, "# from %s\n", f) //nolint:errcheck
		}
		fmt.Fprintf(out, "# ai.api_key set: %t, github.token set: %t\n", a.cfg.AI.APIKey != "", a.cfg.GitHub.Token != "") //nolint:errcheck
		_, err = out.Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
