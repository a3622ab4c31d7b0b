package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cellplane/internal/queue"
	"cellplane/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [cell_id]",
	Short: "Show the document's execution queue",
	Long: `Show the materialized state of the document's execution queue.

Without arguments the whole queue is listed, newest first. With a cell
id only that cell's latest entry is shown in detail. The view is built
by replaying the document's committed event log, so it reflects exactly
what every attached worker sees.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to open document: %v\n", err)
			return
		}
		defer ws.close()

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			status := buildDocumentStatus(ws)
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				cmd.Printf("Failed to encode status: %v\n", err)
				return
			}
			cmd.Println(string(out))
			return
		}

		if len(args) == 1 {
			printCellStatus(cmd, ws, args[0])
			return
		}

		printQueue(cmd, ws)
	},
}

func printQueue(cmd *cobra.Command, ws *workspace) {
	entries := ws.queue.List()
	if len(entries) == 0 {
		cmd.Println("Queue is empty")
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RequestedAt.After(entries[j].RequestedAt)
	})

	cmd.Printf("%sExecution queue%s (%d entries)\n", colorBold, colorReset, len(entries))
	cmd.Println("──────────────────────────────")
	for _, e := range entries {
		session := e.AssignedSessionID
		if session == "" {
			session = "-"
		}
		cmd.Printf("%s %-16s %-22s #%-3d %s %s(%s ago)%s\n",
			statusIcon(string(e.Status)), e.CellID, colorizeStatus(string(e.Status)),
			e.ExecutionCount, session, colorDim, relativeTime(e.RequestedAt), colorReset)
	}
}

func printCellStatus(cmd *cobra.Command, ws *workspace, cellID string) {
	entry, ok := latestEntry(ws, cellID)
	if !ok {
		cmd.Printf("Cell %s has no executions\n", cellID)
		return
	}

	icon := statusIcon(string(entry.Status))
	cmd.Printf("%s %sExecution Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sQueue ID:%s    %s\n", colorDim, colorReset, entry.ID)
	cmd.Printf("%sCell:%s        %s\n", colorDim, colorReset, entry.CellID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(string(entry.Status)))
	cmd.Printf("%sCount:%s       %d\n", colorDim, colorReset, entry.ExecutionCount)
	cmd.Printf("%sKind:%s        %s\n", colorDim, colorReset, entry.Kind)
	cmd.Printf("%sPriority:%s    %d\n", colorDim, colorReset, entry.Priority)

	if entry.AssignedSessionID != "" {
		cmd.Printf("%sSession:%s     %s\n", colorDim, colorReset, entry.AssignedSessionID)
	}
	if entry.ErrorMessage != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *entry.ErrorMessage, colorReset)
	}

	cmd.Printf("%sRequested:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&entry.RequestedAt))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(entry.StartedAt))

	if entry.StartedAt != nil && entry.CompletedAt != nil {
		duration := time.Duration(entry.DurationMs) * time.Millisecond
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(entry.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(entry.CompletedAt))
	}

	if ws.interrupts.IsPending(entry.ID) {
		cmd.Printf("%sInterrupt:%s   %spending%s\n", colorDim, colorReset, colorYellow, colorReset)
	}
}

// latestEntry returns the cell's most recently requested entry.
func latestEntry(ws *workspace, cellID string) (queue.Entry, bool) {
	var best queue.Entry
	found := false
	for _, e := range ws.queue.List() {
		if e.CellID != cellID {
			continue
		}
		if !found || e.RequestedAt.After(best.RequestedAt) {
			best = e
			found = true
		}
	}
	return best, found
}

func buildDocumentStatus(ws *workspace) api.DocumentStatus {
	status := api.DocumentStatus{
		DocumentID: ws.documentID,
		AsOfSeq:    ws.proj.LastSeq(),
	}

	for _, e := range ws.queue.List() {
		status.Queue = append(status.Queue, api.QueueEntryView{
			ID:                e.ID.String(),
			CellID:            e.CellID,
			Kind:              e.Kind,
			ExecutionCount:    e.ExecutionCount,
			RequestedBy:       e.RequestedBy,
			Priority:          e.Priority,
			Status:            string(e.Status),
			AssignedSessionID: e.AssignedSessionID,
			RequestedAt:       e.RequestedAt,
			StartedAt:         e.StartedAt,
			CompletedAt:       e.CompletedAt,
			Error:             e.ErrorMessage,
			DurationMs:        e.DurationMs,
		})
	}

	for _, s := range ws.registry.List() {
		status.Sessions = append(status.Sessions, api.SessionView{
			SessionID:     s.SessionID,
			RuntimeID:     s.RuntimeID,
			Kind:          s.Kind,
			Capabilities:  s.Capabilities,
			Status:        string(s.Status),
			Health:        string(ws.registry.HealthOf(s.SessionID)),
			LastRenewedAt: s.LastRenewedAt,
			ExpiresAt:     s.ExpiresAt(),
		})
	}

	for _, r := range ws.interrupts.All() {
		status.Interrupts = append(status.Interrupts, api.InterruptView{
			QueueID:     r.QueueID.String(),
			CellID:      r.CellID,
			SessionID:   r.SessionID,
			RequestedBy: r.RequestedBy,
			Reason:      r.Reason,
			RequestedAt: r.RequestedAt,
		})
	}

	return status
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "error":
		return colorRed + "✗" + colorReset
	case "cancelled":
		return colorDim + "⊘" + colorReset
	case "running":
		return colorYellow + "⏳" + colorReset
	case "assigned":
		return colorCyan + "●" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "error":
		return icon + " " + colorRed + status + colorReset
	case "cancelled":
		return icon + " " + colorDim + status + colorReset
	case "running":
		return icon + " " + colorYellow + status + colorReset
	case "pending", "assigned":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the full document status as JSON")
	rootCmd.AddCommand(statusCmd)
}
