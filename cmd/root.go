package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"chainledger/logging"
	"chainledger/tracker"
)

var (
	version = "1.0.0"

	verboseFlag bool

	service *tracker.Service
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chainledger",
	Short: "Aggregate on-chain transaction history across blockchains",
	Long: `Chainledger assembles a complete, de-duplicated transaction history for
any address on Ethereum, BSC, or Solana. It pulls every record kind the
chain's data source offers, reconciles missing gas fees, and merges the
streams into one ledger.

Features:
  • Native, internal, and token transfers in one view
  • Mining rewards and validator withdrawals
  • Gas fee reconciliation for token transfers
  • Response caching and rate-limit aware retries
  • Date, currency, and count filters

Configuration:
  ETHERSCAN_API_KEY   explorer credential for ethereum (and bsc fallback)
  BSCSCAN_API_KEY     explorer credential for bsc
  SOLANA_RPC_URL      solana RPC endpoint (public mainnet when unset)

Examples:
  chainledger balance ethereum 0x1234...        # Native balance
  chainledger history ethereum 0x1234...        # Full history
  chainledger history bsc 0x1234... --limit 20  # Latest 20 records
  chainledger history solana 9xQeWv... --currency USDC
  chainledger cache clear                       # Drop cached responses`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger := logging.NewDiscardLogger()
		if verboseFlag {
			logger = logging.NewLogger("chainledger")
		}
		service = tracker.NewService(tracker.ConfigFromEnv(), logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(chainsCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Chainledger v%s\n", version)
	},
}

// chainsCmd lists the supported chains.
var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List supported chains",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range service.Chains() {
			fmt.Println(name)
		}
	},
}

// cacheCmd groups cache maintenance.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached response",
	Run: func(cmd *cobra.Command, args []string) {
		service.ClearCache()
		fmt.Println("🧹 Cache cleared")
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
