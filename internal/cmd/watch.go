package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/watch"
)

var (
	watchDebounce time.Duration
	watchInitial  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Heal the pipeline whenever its input changes",
	Long: `Watch the configured input file and run a healing session after every
change. Sessions run one at a time; changes made during a session trigger
one more session after it ends. Stop with Ctrl+C.

Examples:
  pipemedic watch
  pipemedic watch --debounce 2s --initial`,
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
		out := cmd.OutOrStdout()
		heal := func(ctx context.Context) error {
			_, err := a.session(ctx, h, out)
			return err
		}

		ctx := cmd.Context()
		if watchInitial {
			if err := heal(ctx); err != nil {
				return err
			}
		}
		return watch.New(a.logger).Run(ctx, a.cfg.Pipeline.Data, watchDebounce, heal)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period after the last change before healing")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", false, "heal once before waiting for changes")
	rootCmd.AddCommand(watchCmd)
}
