package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/health"
	"github.com/felixgeelhaar/pipemedic/internal/provider"
)

var (
	doctorJSON    bool
	doctorOffline bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check everything a healing session depends on",
	Long: `Run the pre-flight checks in parallel: the pipeline source parses, the
input header matches the declared columns, the state directories are
writable, the external runner command exists and the provider answers.

Schema drift in the input is reported as degraded, since it is what a
healing session repairs. Any unhealthy check makes the command fail.

Examples:
  pipemedic doctor
  pipemedic doctor --offline --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		manager := health.NewManager().WithTimeout(providerTimeout)
		manager.AddChecker(health.NewSourceChecker(a.cfg.Pipeline.Source))
		manager.AddChecker(health.NewInputChecker(a.cfg.Pipeline.Source, a.cfg.Pipeline.Data))
		manager.AddChecker(health.NewDirChecker(
			a.cfg.Paths.StateDir,
			a.cfg.Paths.BackupDir,
			a.cfg.Paths.SessionDir,
			a.cfg.Paths.ArtifactDir,
		))
		if a.cfg.Pipeline.Runner == "command" {
			manager.AddChecker(health.NewCommandChecker(a.cfg.Pipeline.Command))
		}
		if !doctorOffline {
			manager.AddChecker(health.NewProviderChecker(func() (provider.ProviderClient, error) {
				return a.provider()
			}))
		}

		results := manager.Check(cmd.Context())
		overall := health.OverallStatus(results)
		if doctorJSON {
			if err := writeJSON(cmd, struct {
				Status health.Status    `json:"status"`
				Checks []*health.Result `json:"checks"`
			}{overall, results}); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CHECK\tSTATUS\tLATENCY\tMESSAGE") //nolint:errcheck
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", //nolint:errcheck
					r.Name, r.Status,
					r.Latency.Round(time.Millisecond), firstLine(r.Message))
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if overall == health.StatusUnhealthy {
			return fmt.Errorf("pre-flight checks failed")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output as JSON")
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip the provider check")
	doctorCmd.Flags().DurationVar(&providerTimeout, "timeout", 15*time.Second, "per-check timeout")
	rootCmd.AddCommand(doctorCmd)
}
