package cmd

import (
	"encoding/json"
	"sort"
	"strings"

	"cellplane/internal/outputs"
	"cellplane/pkg/api"

	"github.com/spf13/cobra"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs [cell_id]",
	Short: "Show a cell's consolidated outputs",
	Long: `Show the cell's output sequence as a reader would render it:
consecutive terminal fragments on the same stream are merged into one
block, multimedia and error records keep their own positions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cellID := args[0]

		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to open document: %v\n", err)
			return
		}
		defer ws.close()

		records := ws.outputs.Consolidated(cellID)
		if len(records) == 0 {
			cmd.Printf("Cell %s has no outputs\n", cellID)
			return
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			view := api.CellOutputs{CellID: cellID}
			for _, r := range records {
				view.Outputs = append(view.Outputs, api.OutputView{
					ID:              r.ID.String(),
					CellID:          r.CellID,
					OutputType:      string(r.Type),
					StreamName:      r.StreamName,
					Text:            r.Text,
					Representations: r.Representations,
					Position:        r.Position,
					Metadata:        r.Metadata,
				})
			}
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				cmd.Printf("Failed to encode outputs: %v\n", err)
				return
			}
			cmd.Println(string(out))
			return
		}

		for _, r := range records {
			printRecord(cmd, r)
		}
	},
}

func printRecord(cmd *cobra.Command, r outputs.Record) {
	switch r.Type {
	case outputs.TypeTerminal:
		label := colorDim + "[" + r.StreamName + "]" + colorReset
		if r.StreamName == outputs.StreamStderr {
			label = colorRed + "[" + r.StreamName + "]" + colorReset
		}
		cmd.Printf("%s\n%s", label, r.Text)
		if !strings.HasSuffix(r.Text, "\n") {
			cmd.Println()
		}
	case outputs.TypeError:
		var e struct {
			Ename     string   `json:"ename"`
			Evalue    string   `json:"evalue"`
			Traceback []string `json:"traceback"`
		}
		if raw, ok := r.Representations["application/json"]; ok {
			_ = json.Unmarshal(raw, &e)
		}
		cmd.Printf("%s[error]%s %s%s: %s%s\n", colorRed, colorReset, colorRed, e.Ename, e.Evalue, colorReset)
		for _, line := range e.Traceback {
			cmd.Printf("  %s\n", line)
		}
	default:
		types := make([]string, 0, len(r.Representations))
		for ct := range r.Representations {
			types = append(types, ct)
		}
		sort.Strings(types)
		cmd.Printf("%s[%s]%s %s\n", colorCyan, r.Type, colorReset, strings.Join(types, ", "))
	}
}

func init() {
	outputsCmd.Flags().Bool("json", false, "print outputs as JSON")
	rootCmd.AddCommand(outputsCmd)
}
