package cmd

import (
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pipemedic/internal/chaos"
	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

var (
	injectColumn string
	injectTo     string
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Rename a required column in the input header",
	Long: `Simulate upstream schema drift by renaming one required column in the
header of the configured input file. Data rows are left untouched.

Without --column the first required column found in the header is renamed,
using pipeline.renames for the new name.

Examples:
  pipemedic inject
  pipemedic inject --column user_id --to uid`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		event, err := inject(a, injectColumn, injectTo)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "drift injected: %s\n", event) //nolint:errcheck
		return nil
	},
}

func inject(a *app, column, to string) (*chaos.DriftEvent, error) {
	if to != "" && column == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "--to requires --column")
	}
	renames := maps.Clone(a.cfg.Pipeline.Renames)
	if renames == nil {
		renames = map[string]string{}
	}
	if to != "" {
		renames[column] = to
	}

	injector := chaos.NewInjector(renames, ',')
	event, err := injector.Inject(a.cfg.Pipeline.Data, a.cfg.Pipeline.RequiredColumns, column)
	if err != nil {
		return nil, err
	}
	a.logger.Info("drift injected", "path", event.Path, "column", event.Column, "new_name", event.NewName)
	return event, nil
}

func init() {
	injectCmd.Flags().StringVar(&injectColumn, "column", "", "column to rename (default: first required column present)")
	injectCmd.Flags().StringVar(&injectTo, "to", "", "new column name (default: pipeline.renames entry)")
	rootCmd.AddCommand(injectCmd)
}
