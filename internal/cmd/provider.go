package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var providerTimeout time.Duration

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Check the generation endpoint",
	Long: `The repair agent calls one generation endpoint, configured in the ai
section (provider, model, base_url and api_key).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var providerHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the configured provider answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		client, err := a.provider()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		info := client.GetInfo()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "provider  %s\n", info.Name)  //nolint:errcheck
		fmt.Fprintf(out, "model     %s\n", info.Model) //nolint:errcheck
		if info.BaseURL != "" {
			fmt.Fprintf(out, "endpoint  %s\n", info.BaseURL) //nolint:errcheck
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), providerTimeout)
		defer cancel()
		start := time.Now()
		if err := client.Health(ctx); err != nil {
			fmt.Fprintln(out, failStyle.Render("unhealthy")) //nolint:errcheck
			return err
		}
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("healthy (%s)", time.Since(start).Round(time.Millisecond)))) //nolint:errcheck
		return nil
	},
}

func init() {
	providerHealthCmd.Flags().DurationVar(&providerTimeout, "timeout", 15*time.Second, "health check timeout")

	providerCmd.AddCommand(providerHealthCmd)
	rootCmd.AddCommand(providerCmd)
}
