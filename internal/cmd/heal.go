package cmd

import (
	"github.com/spf13/cobra"
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Run the pipeline and repair it if it fails",
	Long: `Run the configured pipeline. On a repairable failure, snapshot the source
and run up to healing.max_attempts diagnose, patch and verify cycles. A
verified candidate replaces the live source; otherwise the snapshot is
restored.

Exit status is 0 when the pipeline is healthy or healed and 3 when the
attempts are exhausted.

Examples:
  pipemedic heal
  pipemedic heal --env production`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		h, err := a.healer()
		if err != nil {
			return err
		}
		report, err := a.session(cmd.Context(), h, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return reportError(report)
	},
}

func init() {
	rootCmd.AddCommand(healCmd)
}
