package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewBalanceCommand builds the balance command group: get and credit.
func NewBalanceCommand(baseURL BaseURLFunc) *cobra.Command {
	balanceCmd := &cobra.Command{Use: "balance", Short: "Balance operations"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show an account's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, _ := cmd.Flags().GetString("account")
			asset, _ := cmd.Flags().GetString("asset")
			q := url.Values{}
			q.Set("account", acct)
			q.Set("asset", asset)
			var out map[string]any
			if err := getJSON(baseURL()+"/v1/balances?"+q.Encode(), &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	getCmd.Flags().String("account", "", "Account (64 hex chars)")
	getCmd.Flags().String("asset", "native", "Asset name")
	_ = getCmd.MarkFlagRequired("account")
	balanceCmd.AddCommand(getCmd)

	creditCmd := &cobra.Command{
		Use:   "credit",
		Short: "Mint a balance (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, _ := cmd.Flags().GetString("account")
			asset, _ := cmd.Flags().GetString("asset")
			amount, _ := cmd.Flags().GetUint64("amount")
			if amount == 0 {
				return fmt.Errorf("--amount must be positive")
			}
			return postJSON(baseURL()+"/v1/balances/credit", map[string]any{
				"account": acct, "asset": asset, "amount": amount,
			})
		},
	}
	creditCmd.Flags().String("account", "", "Account (64 hex chars)")
	creditCmd.Flags().String("asset", "native", "Asset name")
	creditCmd.Flags().Uint64("amount", 0, "Amount to mint")
	_ = creditCmd.MarkFlagRequired("account")
	_ = creditCmd.MarkFlagRequired("amount")
	balanceCmd.AddCommand(creditCmd)

	return balanceCmd
}
