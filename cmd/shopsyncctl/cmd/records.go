package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type record struct {
	ID           string          `json:"id"`
	Origin       string          `json:"origin"`
	LastModified time.Time       `json:"last_modified"`
	Data         json.RawMessage `json:"data"`
}

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records <collection>",
	Short: "List reconciled records in a collection",
	Long: `List the records the agent currently holds for a collection. When the
agent is online this is the merged local+remote view; offline it is the
local cache.

Example:
  shopsyncctl records bookings`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []record
		if err := apiGet("/v1/records/"+args[0], &recs); err != nil {
			return err
		}

		if outputJSON {
			printJSON(recs)
			return nil
		}

		if len(recs) == 0 {
			fmt.Printf("No records in %q\n", args[0])
			return nil
		}
		fmt.Printf("%d record(s) in %q:\n", len(recs), args[0])
		for _, rec := range recs {
			fmt.Printf("\n  %s\n", rec.ID)
			fmt.Printf("    Origin:   %s\n", rec.Origin)
			fmt.Printf("    Modified: %s\n", rec.LastModified.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("    Data:     %s\n", string(rec.Data))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
}
