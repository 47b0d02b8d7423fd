package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewEventsCommand builds the events read command. The --filter flag takes a
// CEL expression over the event fields, e.g.
//
//	deferd events --filter 'kind == "TaskExecutedErr" && height >= 100'
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Read the append-only event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")
			q := url.Values{}
			q.Set("from", fmt.Sprintf("%d", from))
			q.Set("limit", fmt.Sprintf("%d", limit))
			if filter != "" {
				q.Set("filter", filter)
			}
			var out map[string]any
			if err := getJSON(baseURL()+"/v1/events?"+q.Encode(), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	eventsCmd.Flags().Uint64("from", 0, "Start sequence number")
	eventsCmd.Flags().Int("limit", 100, "Maximum events to return")
	eventsCmd.Flags().String("filter", "", "CEL filter expression")
	return eventsCmd
}
