package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type queueItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error"`
	Target      struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	} `json:"target"`
}

type deadLetter struct {
	At         string    `json:"at"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	HTTPStatus int       `json:"http_status"`
	LastError  string    `json:"last_error"`
	Item       queueItem `json:"item"`
}

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the sync queue",
	Long:  `List pending queue items and dead-lettered failures.`,
}

// queueListCmd represents the queue list command
var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending queue items",
	Long: `List all pending queue items in delivery order.

Example:
  shopsyncctl queue list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var items []queueItem
		if err := apiGet("/v1/queue", &items); err != nil {
			return err
		}

		if outputJSON {
			printJSON(items)
			return nil
		}

		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}
		fmt.Printf("%d pending item(s):\n", len(items))
		for _, it := range items {
			fmt.Printf("\n  %s\n", it.ID)
			fmt.Printf("    Kind:     %s\n", it.Kind)
			fmt.Printf("    Target:   %s %s\n", it.Target.Method, it.Target.Path)
			fmt.Printf("    Enqueued: %s\n", it.EnqueuedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("    Attempts: %d/%d\n", it.Attempts, it.MaxAttempts)
			if it.LastError != "" {
				fmt.Printf("    Error:    %s\n", it.LastError)
			}
		}
		return nil
	},
}

// queueDeadCmd represents the queue dead command
var queueDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered items",
	Long: `List items removed from the queue after permanent rejection or
retry exhaustion.

Example:
  shopsyncctl queue dead`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var letters []deadLetter
		if err := apiGet("/v1/dlq", &letters); err != nil {
			return err
		}

		if outputJSON {
			printJSON(letters)
			return nil
		}

		if len(letters) == 0 {
			fmt.Println("No dead-lettered items")
			return nil
		}
		fmt.Printf("%d dead-lettered item(s):\n", len(letters))
		for _, dl := range letters {
			fmt.Printf("\n  %s\n", dl.Item.ID)
			fmt.Printf("    Kind:     %s\n", dl.Item.Kind)
			fmt.Printf("    Reason:   %s\n", dl.Reason)
			fmt.Printf("    Attempts: %d\n", dl.Attempts)
			if dl.HTTPStatus > 0 {
				fmt.Printf("    HTTP:     %d\n", dl.HTTPStatus)
			}
			if dl.LastError != "" {
				fmt.Printf("    Error:    %s\n", dl.LastError)
			}
		}
		return nil
	},
}

// queuePurgeCmd represents the queue purge command
var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered items",
	Long: `Delete every dead-lettered item. Pending queue items are untouched.

Example:
  shopsyncctl queue purge`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiDelete("/v1/dlq"); err != nil {
			return err
		}
		fmt.Println("Dead letters purged")
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDeadCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
