package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ajeenkya/openclaw-state-consistency/internal/projection"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Rewrite the Canonical State / State Change Log zones of the Markdown artifact",
	RunE:  runProject,
}

func init() {
	projectCmd.Flags().String("artifact", "", "path to the Markdown artifact (default: <root>/state.md)")
}

func runProject(cmd *cobra.Command, _ []string) error {
	e, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	artifact, err := cmd.Flags().GetString("artifact")
	if err != nil {
		return err
	}
	if artifact == "" {
		artifact = filepath.Join(e.Config.RootDir, "state.md")
	}

	engine := projection.New(e.Store)
	render, err := engine.Write(artifact)
	if err != nil {
		return fmt.Errorf("project: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", artifact)
	if len(render.DriftHeadings) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "drift reconciled in: %v\n", render.DriftHeadings)
	}
	return nil
}
