package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type syncState struct {
	Connectivity string    `json:"connectivity"`
	QueueDepth   int       `json:"queue_depth"`
	DeadCount    int       `json:"dead_count"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	InProgress   bool      `json:"in_progress"`
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Show connectivity, queue depth, dead-letter count and the time of
the last drain.

Example:
  shopsyncctl status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var state syncState
		if err := apiGet("/v1/status", &state); err != nil {
			return err
		}

		if outputJSON {
			printJSON(state)
			return nil
		}

		fmt.Printf("Connectivity:  %s\n", state.Connectivity)
		fmt.Printf("Pending items: %d\n", state.QueueDepth)
		fmt.Printf("Failed items:  %d\n", state.DeadCount)
		if state.InProgress {
			fmt.Println("Drain:         in progress")
		}
		if state.LastSyncAt.IsZero() {
			fmt.Println("Last sync:     never")
		} else {
			fmt.Printf("Last sync:     %s\n", state.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
