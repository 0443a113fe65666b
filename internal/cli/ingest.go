package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ingest"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one StateObservation (JSON on stdin or --file) through the C4 pipeline",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().String("file", "", "path to a JSON-encoded StateObservation (default: read stdin)")
	ingestCmd.Flags().Bool("force-commit", false, "bypass the resolver and commit regardless of confidence")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	e, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force-commit")
	if err != nil {
		return err
	}

	var raw []byte
	if path != "" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("ingest: read observation: %w", err)
	}

	var obs model.StateObservation
	if err := json.Unmarshal(raw, &obs); err != nil {
		return fmt.Errorf("ingest: parse observation: %w", err)
	}
	if obs.EntityID == "" {
		obs.EntityID = e.Config.EntityID
	}
	if obs.EventID == "" {
		eventID, err := ids.ContentDerivedEventID("state_observation", string(obs.Intent), obs.EntityID, obs.Field, obs.CandidateValue)
		if err != nil {
			return fmt.Errorf("ingest: derive event id: %w", err)
		}
		obs.EventID = eventID
	}

	result, err := e.Ingest.Ingest(obs, ingest.Options{ForceCommit: force})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	e.Logger.Info("ingest result", "status", result.Status, "confidence", result.Confidence, "margin", result.Margin)
	if result.Prompt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "pending prompt %s: %s\n", result.Prompt.PromptID, result.Prompt.ProposedChange)
	}
	if len(result.Reasons) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "reasons: %v\n", result.Reasons)
	}
	if result.Status == ingest.StatusValidationFailed {
		fmt.Fprintf(cmd.OutOrStdout(), "validation errors: %v (dlq id: %s)\n", result.ValidationErrs, result.DLQID)
	}
	return nil
}
