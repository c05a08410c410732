package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/dashboard"
	"github.com/felixgeelhaar/pipemedic/internal/metrics"
)

var (
	metricsJSON   bool
	metricsOutput string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Report on recorded healing sessions",
	Long: `Every session appends one entry to the metrics log. These commands read it.

Commands:
  report      Print totals, success rate, MTTR and the last sessions
  dashboard   Write the HTML dashboard
  export      Write the Prometheus textfile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var metricsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a summary of recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		entries, err := a.recorder().Entries()
		if err != nil {
			return err
		}
		summary := metrics.Summarize(entries)

		if metricsJSON {
			return writeJSON(cmd, struct {
				Summary metrics.Summary `json:"summary"`
				Recent  []metrics.Entry `json:"recent"`
			}{summary, metrics.Last(entries, dashboard.RecentSessions)})
		}
		fmt.Fprint(cmd.OutOrStdout(), dashboard.RenderTerminal(entries, summary)) //nolint:errcheck
		return nil
	},
}

var metricsDashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Write the HTML dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		path := a.cfg.Paths.DashboardFile
		if metricsOutput != "" {
			path = metricsOutput
		}
		if err := a.writeDashboard(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dashboard written to %s\n", path) //nolint:errcheck
		return nil
	},
}

var metricsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the Prometheus textfile",
	Long: `Rebuild the session counters from the metrics log and write them in the
text exposition format for the node exporter textfile collector.

Examples:
  pipemedic metrics export --output /var/lib/node_exporter/pipemedic.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		path := a.cfg.Paths.PromTextfile
		if metricsOutput != "" {
			path = metricsOutput
		}
		if path == "" {
			return fmt.Errorf("no output path: pass --output or set paths.prom_textfile")
		}

		entries, err := a.recorder().Entries()
		if err != nil {
			return err
		}
		registry, m := metrics.NewRegistry()
		m.Replay(entries)
		if err := metrics.WriteTextfile(path, registry); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d session(s) exported to %s\n", len(entries), path) //nolint:errcheck
		return nil
	},
}

func init() {
	metricsReportCmd.Flags().BoolVar(&metricsJSON, "json", false, "output as JSON")
	metricsDashboardCmd.Flags().StringVarP(&metricsOutput, "output", "o", "", "output file (default paths.dashboard_file)")
	metricsExportCmd.Flags().StringVarP(&metricsOutput, "output", "o", "", "output file (default paths.prom_textfile)")

	metricsCmd.AddCommand(metricsReportCmd)
	metricsCmd.AddCommand(metricsDashboardCmd)
	metricsCmd.AddCommand(metricsExportCmd)
	rootCmd.AddCommand(metricsCmd)
}
