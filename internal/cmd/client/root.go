// Package client implements the CLI command groups that talk to a running
// deferd node over its HTTP API.
package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc resolves the node's HTTP API base URL at invocation time.
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the deferd client. It
// registers the task, height, events, balance, and trustfund groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "deferd",
		Short: "deferd client commands",
	}
	root.AddCommand(NewTaskCommand(baseURL))
	root.AddCommand(NewHeightCommand(baseURL))
	root.AddCommand(NewEventsCommand(baseURL))
	root.AddCommand(NewBalanceCommand(baseURL))
	root.AddCommand(NewTrustFundCommand(baseURL))
	return root
}
