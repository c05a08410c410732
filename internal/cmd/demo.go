package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
	"github.com/felixgeelhaar/pipemedic/internal/fsutil"
	"github.com/felixgeelhaar/pipemedic/internal/pipeline"
)

var demoReset bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Inject schema drift and heal it",
	Long: `Walk through the full loop: write the sample users pipeline if needed,
rename a required column in its input, then heal.

--reset rewrites the sample pipeline and input first, which undoes both an
earlier drift and an earlier repair.

Examples:
  pipemedic demo --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		written, err := writeSample(a.cfg.Pipeline.Source, a.cfg.Pipeline.Data, demoReset)
		if err != nil {
			return err
		}
		if written {
			fmt.Fprintf(out, "sample pipeline written to %s and %s\n", a.cfg.Pipeline.Source, a.cfg.Pipeline.Data) //nolint:errcheck
		}

		event, err := inject(a, "", "")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "drift injected: %s\n\n", event) //nolint:errcheck

		h, err := a.healer()
		if err != nil {
			return err
		}
		report, err := a.session(cmd.Context(), h, out)
		if err != nil {
			return err
		}
		return reportError(report)
	},
}

// writeSample writes the sample pipeline and input when reset is set or the
// source does not exist yet.
func writeSample(source, data string, reset bool) (bool, error) {
	if !reset {
		if _, err := os.Stat(source); err == nil {
			return false, nil
		}
	}
	files := []struct {
		path    string
		content string
	}{
		{source, pipeline.SampleDefinition},
		{data, pipeline.SampleData},
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
			return false, errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create "+filepath.Dir(f.path), err)
		}
		if err := fsutil.WriteFileAtomic(f.path, []byte(f.content), 0644); err != nil {
			return false, errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write "+f.path, err)
		}
	}
	return true, nil
}

func init() {
	demoCmd.Flags().BoolVar(&demoReset, "reset", false, "restore the sample pipeline and input before injecting drift")
	rootCmd.AddCommand(demoCmd)
}
