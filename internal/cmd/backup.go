package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/backup"
)

var (
	backupHistory   bool
	backupJSON      bool
	backupOlderThan time.Duration
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore pipeline source snapshots",
	Long: `Snapshots of the pipeline source are taken before the first patch of every
healing session. They are never modified; restore copies one back over the
live source after checking its digest.

Commands:
  list      List snapshots, newest first
  restore   Restore a snapshot over the live source
  prune     Remove snapshots older than the retention period`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		m := a.backups()
		out := cmd.OutOrStdout()

		if backupHistory {
			history, err := m.History()
			if err != nil {
				return err
			}
			if backupJSON {
				return writeJSON(cmd, history)
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tSNAPSHOT") //nolint:errcheck
			for _, h := range history {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Timestamp.Local().Format(time.DateTime), h.Action, h.Snapshot) //nolint:errcheck
			}
			return w.Flush()
		}

		snapshots, err := m.List()
		if err != nil {
			return err
		}
		if backupJSON {
			return writeJSON(cmd, snapshots)
		}
		if len(snapshots) == 0 {
			fmt.Fprintf(out, "No snapshots in %s\n", m.Dir()) //nolint:errcheck
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSESSION\tCREATED\tSIZE") //nolint:errcheck
		for _, s := range snapshots {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Label.SessionID, s.CreatedAt.Local().Format(time.DateTime), s.Size) //nolint:errcheck
		}
		return w.Flush()
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore a snapshot over the live source",
	Long: `Restore a snapshot over the live pipeline source. Use "latest" for the most
recent snapshot.

Examples:
  pipemedic backup restore latest
  pipemedic backup restore pipeline.yaml.20250301T090000Z.5f0c-a1.bak`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		m := a.backups()

		id := backup.SnapshotID(args[0])
		if args[0] == "latest" {
			latest, ok, err := m.Latest()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no snapshots in %s", m.Dir())
			}
			id = latest.ID
		}

		if err := m.Restore(id); err != nil {
			return err
		}
		a.logger.Info("snapshot restored", "snapshot", id, "source", a.cfg.Pipeline.Source)
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", id, a.cfg.Pipeline.Source) //nolint:errcheck
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		retention := a.cfg.Healing.BackupRetention
		if cmd.Flags().Changed("older-than") {
			retention = backupOlderThan
		}

		removed, err := a.backups().Prune(retention)
		if err != nil {
			return err
		}
		for _, id := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id) //nolint:errcheck
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d snapshot(s) older than %s removed\n", len(removed), retention) //nolint:errcheck
		return nil
	},
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	backupListCmd.Flags().BoolVar(&backupHistory, "history", false, "show the version history log instead")
	backupListCmd.Flags().BoolVar(&backupJSON, "json", false, "output as JSON")
	backupPruneCmd.Flags().DurationVar(&backupOlderThan, "older-than", 0, "retention period (default healing.backup_retention)")

	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupPruneCmd)
	rootCmd.AddCommand(backupCmd)
}
