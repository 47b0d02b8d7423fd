package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewTrustFundCommand builds the trustfund command group.
func NewTrustFundCommand(baseURL BaseURLFunc) *cobra.Command {
	tfCmd := &cobra.Command{Use: "trustfund", Short: "Trust fund operations"}

	beneficiariesCmd := &cobra.Command{
		Use:   "beneficiaries",
		Short: "Set the grantor's weighted beneficiary list",
		RunE: func(cmd *cobra.Command, args []string) error {
			grantor, _ := cmd.Flags().GetString("grantor")
			sharesJSON, _ := cmd.Flags().GetString("shares")
			var shares []map[string]any
			if err := json.Unmarshal([]byte(sharesJSON), &shares); err != nil {
				return fmt.Errorf("--shares must be a JSON array: %w", err)
			}
			return postJSON(baseURL()+"/v1/trustfund/beneficiaries", map[string]any{
				"grantor": grantor, "beneficiaries": shares,
			})
		},
	}
	beneficiariesCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	beneficiariesCmd.Flags().String("shares", "", `Shares as JSON, e.g. [{"address":"...","weight":2}]`)
	_ = beneficiariesCmd.MarkFlagRequired("grantor")
	_ = beneficiariesCmd.MarkFlagRequired("shares")
	tfCmd.AddCommand(beneficiariesCmd)

	switchCmd := &cobra.Command{
		Use:   "switch",
		Short: "Set the grantor's living-switch condition",
		RunE: func(cmd *cobra.Command, args []string) error {
			grantor, _ := cmd.Flags().GetString("grantor")
			kind, _ := cmd.Flags().GetString("kind")
			height, _ := cmd.Flags().GetUint64("height")
			interval, _ := cmd.Flags().GetUint64("interval")
			return postJSON(baseURL()+"/v1/trustfund/switch", map[string]any{
				"grantor": grantor,
				"condition": map[string]any{
					"kind": kind, "height": height, "interval": interval,
				},
			})
		},
	}
	switchCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	switchCmd.Flags().String("kind", "height", "Condition kind: none|height|clock_in_interval")
	switchCmd.Flags().Uint64("height", 0, "Absolute trip height (kind=height)")
	switchCmd.Flags().Uint64("interval", 0, "Heights since last clock-in (kind=clock_in_interval)")
	_ = switchCmd.MarkFlagRequired("grantor")
	tfCmd.AddCommand(switchCmd)

	clockInCmd := &cobra.Command{
		Use:   "clockin",
		Short: "Refresh the grantor's liveness at the current height",
		RunE: func(cmd *cobra.Command, args []string) error {
			grantor, _ := cmd.Flags().GetString("grantor")
			return postJSON(baseURL()+"/v1/trustfund/clockin", map[string]any{"grantor": grantor})
		},
	}
	clockInCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	_ = clockInCmd.MarkFlagRequired("grantor")
	tfCmd.AddCommand(clockInCmd)

	depositCmd := &cobra.Command{
		Use:   "deposit",
		Short: "Move funds from the grantor's balance into the fund",
		RunE: func(cmd *cobra.Command, args []string) error {
			grantor, _ := cmd.Flags().GetString("grantor")
			asset, _ := cmd.Flags().GetString("asset")
			amount, _ := cmd.Flags().GetUint64("amount")
			return postJSON(baseURL()+"/v1/trustfund/deposit", map[string]any{
				"grantor": grantor, "asset": asset, "amount": amount,
			})
		},
	}
	depositCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	depositCmd.Flags().String("asset", "native", "Asset name")
	depositCmd.Flags().Uint64("amount", 0, "Amount to deposit")
	_ = depositCmd.MarkFlagRequired("grantor")
	_ = depositCmd.MarkFlagRequired("amount")
	tfCmd.AddCommand(depositCmd)

	withdrawCmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Distribute a tripped fund to its beneficiaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, _ := cmd.Flags().GetString("caller")
			grantor, _ := cmd.Flags().GetString("grantor")
			return postJSON(baseURL()+"/v1/trustfund/withdraw", map[string]any{
				"caller": caller, "grantor": grantor,
			})
		},
	}
	withdrawCmd.Flags().String("caller", "", "Calling account (64 hex chars)")
	withdrawCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	_ = withdrawCmd.MarkFlagRequired("caller")
	_ = withdrawCmd.MarkFlagRequired("grantor")
	tfCmd.AddCommand(withdrawCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a fund's beneficiaries, condition, and last clock-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			grantor, _ := cmd.Flags().GetString("grantor")
			var out map[string]any
			if err := getJSON(fmt.Sprintf("%s/v1/trustfund/status?grantor=%s", baseURL(), grantor), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	statusCmd.Flags().String("grantor", "", "Grantor account (64 hex chars)")
	_ = statusCmd.MarkFlagRequired("grantor")
	tfCmd.AddCommand(statusCmd)

	return tfCmd
}
