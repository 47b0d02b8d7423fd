package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewTaskCommand builds the task command group: schedule and nonce.
func NewTaskCommand(baseURL BaseURLFunc) *cobra.Command {
	taskCmd := &cobra.Command{Use: "task", Short: "Deferred task operations"}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a deferred delegated task",
		RunE: func(cmd *cobra.Command, args []string) error {
			submitter, _ := cmd.Flags().GetString("submitter")
			nonce, _ := cmd.Flags().GetUint64("nonce")
			due, _ := cmd.Flags().GetUint64("due-height")
			method, _ := cmd.Flags().GetString("method")
			params, _ := cmd.Flags().GetString("params")
			if params == "" {
				params = "{}"
			}
			if !json.Valid([]byte(params)) {
				return fmt.Errorf("--params must be valid JSON")
			}
			return postJSON(baseURL()+"/v1/tasks/schedule", map[string]any{
				"submitter": submitter,
				"nonce":     nonce,
				"dueHeight": due,
				"method":    method,
				"params":    json.RawMessage(params),
			})
		},
	}
	scheduleCmd.Flags().String("submitter", "", "Submitter account (64 hex chars)")
	scheduleCmd.Flags().Uint64("nonce", 0, "Submitter's expected nonce")
	scheduleCmd.Flags().Uint64("due-height", 0, "Height the task becomes due at")
	scheduleCmd.Flags().String("method", "", "Dispatch method name")
	scheduleCmd.Flags().String("params", "{}", "Method params as JSON")
	_ = scheduleCmd.MarkFlagRequired("submitter")
	_ = scheduleCmd.MarkFlagRequired("due-height")
	_ = scheduleCmd.MarkFlagRequired("method")
	taskCmd.AddCommand(scheduleCmd)

	nonceCmd := &cobra.Command{
		Use:   "nonce",
		Short: "Show the nonce an account must present next",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, _ := cmd.Flags().GetString("account")
			var out map[string]uint64
			if err := getJSON(fmt.Sprintf("%s/v1/nonce?account=%s", baseURL(), acct), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	nonceCmd.Flags().String("account", "", "Account (64 hex chars)")
	_ = nonceCmd.MarkFlagRequired("account")
	taskCmd.AddCommand(nonceCmd)

	return taskCmd
}
