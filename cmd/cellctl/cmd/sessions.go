package cmd

import (
	"sort"
	"time"

	"cellplane/internal/registry"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the document's runtime sessions",
	Long: `List every runtime session registered on the document, with its
liveness classification: healthy while the lease is valid, in-tolerance
during the grace window after expiry, expired once the tolerance has
passed and the session's claimed work is eligible for recovery.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to open document: %v\n", err)
			return
		}
		defer ws.close()

		sessions := ws.registry.List()
		if len(sessions) == 0 {
			cmd.Println("No runtime sessions")
			return
		}

		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].SessionID < sessions[j].SessionID
		})

		cmd.Printf("%sRuntime sessions%s (%d)\n", colorBold, colorReset, len(sessions))
		cmd.Println("──────────────────────────────")
		for _, s := range sessions {
			health := ws.registry.HealthOf(s.SessionID)
			cmd.Printf("%s %-36s %-12s %-8s %-8s renewed %s%s ago%s\n",
				healthIcon(health), s.SessionID, s.RuntimeID, s.Kind,
				string(s.Status), colorDim, relativeTime(s.LastRenewedAt), colorReset)
			if health == registry.Expired {
				cmd.Printf("  %slease expired %s ago, claimed work eligible for recovery%s\n",
					colorRed, relativeTime(s.ExpiresAt().Add(ws.registry.Tolerance())), colorReset)
			} else {
				cmd.Printf("  %slease expires in %s%s\n",
					colorDim, formatDuration(time.Until(s.ExpiresAt())), colorReset)
			}
		}
	},
}

func healthIcon(h registry.Health) string {
	switch h {
	case registry.Healthy:
		return colorGreen + "●" + colorReset
	case registry.InTolerance:
		return colorYellow + "◐" + colorReset
	case registry.Expired:
		return colorRed + "○" + colorReset
	default:
		return "•"
	}
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
