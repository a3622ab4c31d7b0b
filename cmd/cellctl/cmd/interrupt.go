package cmd

import (
	"errors"

	"cellplane/internal/interrupt"

	"github.com/spf13/cobra"
)

var interruptCmd = &cobra.Command{
	Use:   "interrupt [cell_id]",
	Short: "Ask the running session to stop a cell",
	Long: `Request a cooperative interrupt of the cell's active execution.

The request is addressed to the session that holds the cell's entry;
the session stops at its next safe point. If the session does not honor
the interrupt within the grace window, the health monitor cancels the
entry outright.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cellID := args[0]
		reason, _ := cmd.Flags().GetString("reason")
		requestedBy, _ := cmd.Flags().GetString("by")

		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to open document: %v\n", err)
			return
		}
		defer ws.close()

		err = ws.interrupts.RequestInterrupt(cmd.Context(), cellID, requestedBy, reason)
		if errors.Is(err, interrupt.ErrNoActiveExecution) {
			cmd.Printf("Cell %s has no claimed or running execution to interrupt\n", cellID)
			return
		}
		if err != nil {
			cmd.Printf("Failed to request interrupt: %v\n", err)
			return
		}

		cmd.Printf("Interrupt requested for cell %s\n", cellID)
	},
}

func init() {
	interruptCmd.Flags().String("reason", "", "why the execution should stop")
	interruptCmd.Flags().String("by", "cellctl", "requesting user identity")
	rootCmd.AddCommand(interruptCmd)
}
