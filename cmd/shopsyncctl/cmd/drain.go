package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type itemOutcome struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// drainCmd represents the drain command
var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Trigger a queue drain",
	Long: `Ask the agent to drain its sync queue now instead of waiting for the
next connectivity transition. Does nothing while the agent is offline.

Example:
  shopsyncctl drain`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var outcomes []itemOutcome
		if err := apiPost("/v1/drain", nil, &outcomes); err != nil {
			return err
		}

		if outputJSON {
			printJSON(outcomes)
			return nil
		}

		if len(outcomes) == 0 {
			fmt.Println("Nothing to drain")
			return nil
		}
		fmt.Printf("Drained %d item(s):\n", len(outcomes))
		for _, o := range outcomes {
			line := fmt.Sprintf("  %-10s %s (%s, attempts=%d", o.Outcome, o.ID, o.Kind, o.Attempts)
			if o.HTTPStatus > 0 {
				line += fmt.Sprintf(", http=%d", o.HTTPStatus)
			}
			line += ")"
			fmt.Println(line)
			if o.Error != "" {
				fmt.Printf("             %s\n", o.Error)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(drainCmd)
}
