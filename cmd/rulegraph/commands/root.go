package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Persistent flags shared by every subcommand.
var (
	configPath string
	jsonOutput bool
)

// Execute runs the rulegraph command line until ctx is canceled.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rulegraph",
		Short: "rulegraph - decision graph rule engine",
		Long: `rulegraph builds decision graphs into rules and evaluates them over
batches of records.

Features:
  - JSON, YAML and CUE rule documents
  - Content-hash versioning
  - Table lookups, GLM scoring and nested sub-rules
  - Connectors backed by Starlark scripts or a Redis feature store
  - Rego policies over the graph`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newValidateCommand(),
		newRunCommand(),
		newHashCommand(),
		newOrderCommand(),
		newInspectCommand(),
		newWatchCommand(),
	)

	return rootCmd
}
