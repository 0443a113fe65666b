// Package cli wires the statectl cobra command tree: run, doctor, ingest,
// confirm, project.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "statectl",
	Short: "State-consistency engine for a host-chat runtime",
	Long: `statectl runs the state-consistency engine: a single-writer canonical
document store with confidence-scored ingestion, a pending-confirmation
lifecycle, deterministic Markdown projection, and an asynchronous
confirmation loop bridging to a host chat surface.

Running 'statectl' without a subcommand is equivalent to 'statectl run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(projectCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to state-config.yaml (default: $STATE_ROOT_DIR/state-config.yaml if present)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
