package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/dashboard"
)

var (
	sessionJSON bool
	sessionRaw  bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect healing sessions",
	Long: `Every healing session saves its state, attempts and transitions to
paths.session_dir as it runs.

Commands:
  list     List sessions, newest first
  show     Show one session

Examples:
  pipemedic session list
  pipemedic session show 5f0c2b9e-0d7a-4f55-9d62-8c1f0e8b7a11`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		states, err := a.checkpoints().LoadAll()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if sessionJSON {
			return writeJSON(cmd, states)
		}
		if len(states) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.") //nolint:errcheck
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SESSION\tPIPELINE\tSTATUS\tSTARTED\tATTEMPTS\tELAPSED") //nolint:errcheck
		for _, s := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", //nolint:errcheck
				s.SessionID, s.Pipeline, s.Status,
				s.StartedAt.Local().Format(time.DateTime),
				len(s.Attempts), s.Elapsed().Round(time.Millisecond))
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		state, err := a.checkpoints().Load(args[0])
		if err != nil {
			return err
		}
		if sessionJSON {
			return writeJSON(cmd, state)
		}

		md := dashboard.RenderSessionMarkdown(state)
		if sessionRaw {
			fmt.Fprint(cmd.OutOrStdout(), md) //nolint:errcheck
			return nil
		}
		rendered, err := dashboard.RenderMarkdown(md, 100)
		if err != nil {
			a.logger.Debug("markdown rendering failed, printing raw", "error", err)
			rendered = md
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered) //nolint:errcheck
		return nil
	},
}

func init() {
	sessionListCmd.Flags().BoolVar(&sessionJSON, "json", false, "output as JSON")
	sessionShowCmd.Flags().BoolVar(&sessionJSON, "json", false, "output as JSON")
	sessionShowCmd.Flags().BoolVar(&sessionRaw, "raw", false, "print markdown without terminal styling")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}
