package client

import (
	"github.com/spf13/cobra"
)

// NewHeightCommand builds the height command group: get and advance.
func NewHeightCommand(baseURL BaseURLFunc) *cobra.Command {
	heightCmd := &cobra.Command{Use: "height", Short: "Ledger height operations"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the current height",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]uint64
			if err := getJSON(baseURL()+"/v1/height", &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	heightCmd.AddCommand(getCmd)

	advanceCmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance the height and run its task batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON(baseURL()+"/v1/height/advance", nil)
		},
	}
	heightCmd.AddCommand(advanceCmd)

	return heightCmd
}
