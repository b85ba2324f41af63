package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"chainledger/ledger"
	"chainledger/tracker"
)

var (
	startFlag    string
	endFlag      string
	currencyFlag string
	limitFlag    int
)

var historyCmd = &cobra.Command{
	Use:   "history <chain> <address>",
	Short: "Show an address's unified transaction history",
	Long: `Show the full transaction history for an address: native, internal,
and token transfers, plus mining rewards and validator withdrawals,
merged into one de-duplicated ledger, newest first.

Supported chains: ethereum, bsc, solana

Examples:
  chainledger history ethereum 0x1234...
  chainledger history ethereum 0x1234... --limit 20
  chainledger history bsc 0x1234... --currency USDT
  chainledger history ethereum 0x1234... --start 2024-01-01 --end 2024-06-30`,
	Args: cobra.ExactArgs(2),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&startFlag, "start", "", "earliest date to include (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&endFlag, "end", "", "latest date to include (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&currencyFlag, "currency", "", "only records in this currency")
	historyCmd.Flags().IntVarP(&limitFlag, "limit", "l", 0, "maximum records to show (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	chain := strings.ToLower(args[0])
	address := args[1]

	opts, err := historyOptions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("Fetching %s history", chain)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(100 * time.Millisecond):
				bar.Add(1)
			}
		}
	}()

	start := time.Now()
	records, err := service.GetHistory(ctx, chain, address, opts)
	close(done)
	bar.Finish()
	if err != nil {
		return err
	}

	fmt.Printf("📜 %s history for %s\n", chain, address)
	fmt.Printf("⏱️ Loaded %d records in %v\n\n", len(records), time.Since(start).Round(10*time.Millisecond))

	if len(records) == 0 {
		fmt.Println("No transactions found")
		return nil
	}

	for i, tx := range records {
		printRecord(i+1, tx)
		if i < len(records)-1 {
			fmt.Println()
		}
	}
	return nil
}

func historyOptions() (tracker.HistoryOptions, error) {
	var opts tracker.HistoryOptions
	if startFlag != "" {
		t, err := time.Parse("2006-01-02", startFlag)
		if err != nil {
			return opts, fmt.Errorf("invalid --start date %q: use YYYY-MM-DD", startFlag)
		}
		opts.Start = t
	}
	if endFlag != "" {
		t, err := time.Parse("2006-01-02", endFlag)
		if err != nil {
			return opts, fmt.Errorf("invalid --end date %q: use YYYY-MM-DD", endFlag)
		}
		// Inclusive through the end of the named day.
		opts.End = t.Add(24*time.Hour - time.Nanosecond)
	}
	opts.Currency = currencyFlag
	opts.Limit = limitFlag
	return opts, nil
}

func printRecord(n int, tx ledger.Transaction) {
	direction := "⬅️ IN"
	if tx.Direction == ledger.DirectionOutgoing {
		direction = "➡️ OUT"
	}

	line := fmt.Sprintf("%d. %s | %s | %s", n, direction, tx.Time().Format("2006-01-02 15:04:05"), tx.Kind)
	if tx.Status == ledger.StatusFailed {
		color.Red("%s | FAILED", line)
	} else {
		fmt.Println(line)
	}

	fmt.Printf("   Hash: %s\n", tx.Hash)
	fmt.Printf("   From: %s\n", truncateAddress(tx.From))
	fmt.Printf("   To:   %s\n", truncateAddress(tx.To))
	fmt.Printf("   Amount: %s %s\n", tx.Amount.String(), tx.Currency)

	if !tx.GasFee.IsZero() {
		if tx.GasFeeEstimated {
			fmt.Printf("   Fee: %s (estimated)\n", tx.GasFee.String())
		} else {
			fmt.Printf("   Fee: %s\n", tx.GasFee.String())
		}
	}
}

// truncateAddress shortens long blockchain addresses for display
func truncateAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "..." + address[len(address)-6:]
}
