package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <chain> <address>",
	Short: "Check an address's native balance",
	Long: `Check the native balance of any address on a supported chain.

Supported chains: ethereum, bsc, solana

A balance that cannot be fetched right now is reported as unavailable,
never as zero.

Examples:
  chainledger balance ethereum 0x1234...
  chainledger balance bsc 0x1234...
  chainledger balance solana 9xQeWv... --tokens`,
	Args: cobra.ExactArgs(2),
	RunE: runBalance,
}

var tokensFlag bool

func init() {
	balanceCmd.Flags().BoolVar(&tokensFlag, "tokens", false, "also list token balances (solana)")
}

func runBalance(cmd *cobra.Command, args []string) error {
	chain := strings.ToLower(args[0])
	address := args[1]

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	snapshot, err := service.GetBalance(ctx, chain, address)
	if err != nil {
		return err
	}

	fmt.Printf("💰 %s balance for %s\n", chain, address)
	if !snapshot.IsLive {
		color.Red("   ❌ Unavailable: %s", snapshot.Err)
	} else {
		color.Green("   %s %s", snapshot.Amount.String(), snapshot.Unit)
	}
	fmt.Printf("   🕒 Fetched: %s\n", snapshot.FetchedAt.Format("2006-01-02 15:04:05"))

	if tokensFlag {
		balances, err := service.GetTokenBalances(ctx, chain, address)
		if err != nil {
			color.Red("   ❌ Token balances unavailable: %v", err)
			return nil
		}
		if len(balances) == 0 {
			fmt.Println("   No token balances")
			return nil
		}
		fmt.Println("   Tokens:")
		for symbol, amount := range balances {
			fmt.Printf("      %s %s\n", amount.String(), symbol)
		}
	}
	return nil
}
