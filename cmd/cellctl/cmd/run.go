package cmd

import (
	"errors"

	"cellplane/internal/queue"
	"cellplane/pkg/api"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [cell_id]",
	Short: "Request execution of a cell",
	Long: `Append an execution request for a cell to the document's queue.

The request stays pending until a runtime session of the matching kind
claims it. A cell with a queued or running execution rejects further
requests until the active one reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cellID := args[0]

		priority, _ := cmd.Flags().GetInt("priority")
		kind, _ := cmd.Flags().GetString("kind")
		requestedBy, _ := cmd.Flags().GetString("by")

		if priority < api.PriorityMin || priority > api.PriorityMax {
			cmd.Printf("Priority must be between %d and %d\n", api.PriorityMin, api.PriorityMax)
			return
		}

		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to open document: %v\n", err)
			return
		}
		defer ws.close()

		queueID, err := ws.queue.RequestExecution(cmd.Context(), queue.ExecutionRequest{
			CellID:      cellID,
			RequestedBy: requestedBy,
			Priority:    priority,
			Kind:        kind,
		})
		if errors.Is(err, queue.ErrDuplicateRequest) {
			cmd.Printf("Cell %s already has a queued or running execution\n", cellID)
			return
		}
		if err != nil {
			cmd.Printf("Failed to request execution: %v\n", err)
			return
		}

		cmd.Println("Execution queued")
		cmd.Printf("%sQueue ID:%s %s\n", colorDim, colorReset, queueID)
	},
}

func init() {
	runCmd.Flags().IntP("priority", "p", api.PriorityNormal, "priority between 0 and 100")
	runCmd.Flags().StringP("kind", "k", "", `capability class of the runtime (default "code")`)
	runCmd.Flags().String("by", "cellctl", "requesting user identity")
	rootCmd.AddCommand(runCmd)
}
