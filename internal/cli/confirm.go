package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajeenkya/openclaw-state-consistency/internal/bridge"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm [prompt-ref] [confirm|reject|edit <value>]",
	Short: "Resolve a pending confirmation from the command line, same grammar as the /state-confirm chat command",
	Args:  cobra.ArbitraryArgs,
	RunE:  runConfirm,
}

func runConfirm(cmd *cobra.Command, args []string) error {
	e, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	hooks := &bridge.Hooks{
		Pending:     e.Pending,
		Ingest:      e.Ingest,
		Classifier:  e.Classifier,
		WorkerState: e.Store.Layout().ConfirmWorkerStatePath(),
		EntityID:    e.Config.EntityID,
	}

	joined := ""
	for i, a := range args {
		if i > 0 {
			joined += " "
		}
		joined += a
	}

	reply := hooks.HandleCommand(e.Config.EntityID, joined)
	if reply.Err != "" {
		fmt.Fprintln(cmd.OutOrStdout(), reply.Err)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	for _, b := range reply.Buttons {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%s] -> %s\n", b.Text, b.CallbackData)
	}
	return nil
}
