package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/runner"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once without healing",
	Long: `Run the configured pipeline against its input once. A failure is reported
with its kind and exits non-zero; nothing is patched.

Examples:
  pipemedic run
  pipemedic run --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		run, err := a.runner()
		if err != nil {
			return err
		}

		out := run.Run(cmd.Context(), runner.Target{
			SourcePath: a.cfg.Pipeline.Source,
			DataPath:   a.cfg.Pipeline.Data,
			DryRun:     runDryRun,
		})
		if out.OK() {
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(out.String())) //nolint:errcheck
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), failStyle.Render(fmt.Sprintf("failure (%s)", out.Kind))) //nolint:errcheck
		if out.Err != nil {
			return out.Err
		}
		code := out.Code
		if code == "" {
			code = errors.ErrCodePipelineRuntime
		}
		return errors.New(code, out.Message)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "validate and transform without writing the output")
	rootCmd.AddCommand(runCmd)
}
