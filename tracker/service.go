package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"chainledger/explorer"
	"chainledger/ledger"
	"chainledger/logging"
	"chainledger/solana"
)

// HistoryOptions narrows a history query. The zero value means everything.
// Filtering happens client-side on the aggregated ledger, after fee
// reconciliation and deduplication, so a limit never hides a record that a
// later page would have repaired.
type HistoryOptions struct {
	Start    time.Time
	End      time.Time
	Currency string
	Limit    int
}

// prefilterHorizon bounds how far back a date filter must reach before the
// coarse block-window estimate is worth applying. Recent windows save the
// most pages; for older ones the estimate's drift erodes the benefit.
const prefilterHorizon = 30 * 24 * time.Hour

// prefilterMargin widens an estimated block window so the linear
// approximation's drift cannot exclude boundary records.
const prefilterMargin = 24 * time.Hour

type evmSource struct {
	client  *explorer.Client
	fetcher *explorer.Fetcher
}

// Service is the aggregation façade: balances and unified transfer history
// for any supported chain behind one API.
type Service struct {
	logger logging.Logger
	now    func() time.Time

	evm map[string]*evmSource
	sol *solana.Fetcher

	solClient *solana.Client
}

// NewService wires a client per configured chain.
func NewService(cfg Config, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	evm := make(map[string]*evmSource, len(explorer.Chains))
	for name, chain := range explorer.Chains {
		client := explorer.NewClient(chain, cfg.explorerKey(name), logger)
		evm[name] = &evmSource{
			client:  client,
			fetcher: explorer.NewFetcher(client, logger),
		}
	}

	solClient := solana.NewClient(cfg.SolanaRPCURL, logger)
	return &Service{
		logger:    logger,
		now:       time.Now,
		evm:       evm,
		sol:       solana.NewFetcher(solClient, logger),
		solClient: solClient,
	}
}

// Chains lists the chain names the service answers for.
func (s *Service) Chains() []string {
	names := make([]string, 0, len(s.evm)+1)
	for name := range s.evm {
		names = append(names, name)
	}
	names = append(names, "solana")
	sort.Strings(names)
	return names
}

// ClearCache flushes every per-chain response cache.
func (s *Service) ClearCache() {
	for _, src := range s.evm {
		src.client.FlushCache()
	}
	s.solClient.FlushCache()
}

// GetBalance reads the native balance for an address. Remote failure never
// propagates as an error: the snapshot comes back with IsLive=false and the
// failure text, so a dashboard can render "unavailable" instead of a false
// zero. Only an unknown chain or malformed address is an error.
func (s *Service) GetBalance(ctx context.Context, chain, address string) (ledger.BalanceSnapshot, error) {
	snapshot := ledger.BalanceSnapshot{
		Address:    address,
		Blockchain: chain,
		Network:    "mainnet",
		FetchedAt:  s.now(),
	}

	if chain == "solana" {
		if err := solana.ValidateAddress(address); err != nil {
			return ledger.BalanceSnapshot{}, err
		}
		snapshot.Unit = "SOL"
		amount, err := s.sol.Balance(ctx, address)
		if err != nil {
			s.logger.Printf("balance degraded chain=%s address=%s: %v", chain, address, err)
			snapshot.Err = err.Error()
			return snapshot, nil
		}
		snapshot.Amount = amount
		snapshot.IsLive = true
		return snapshot, nil
	}

	src, ok := s.evm[chain]
	if !ok {
		return ledger.BalanceSnapshot{}, fmt.Errorf("unsupported chain %q", chain)
	}
	if !common.IsHexAddress(address) {
		return ledger.BalanceSnapshot{}, fmt.Errorf("invalid %s address %q", chain, address)
	}

	snapshot.Unit = src.client.Chain().Symbol
	amount, err := src.client.AccountBalance(ctx, address)
	if err != nil {
		s.logger.Printf("balance degraded chain=%s address=%s: %v", chain, address, err)
		snapshot.Err = err.Error()
		return snapshot, nil
	}
	snapshot.Amount = amount
	snapshot.IsLive = true
	return snapshot, nil
}

// GetTokenBalances reads the address's token balances. Currently served for
// solana, where one call lists every holding; explorer chains would need a
// contract list to iterate and are not covered.
func (s *Service) GetTokenBalances(ctx context.Context, chain, address string) (map[string]decimal.Decimal, error) {
	if chain != "solana" {
		return nil, fmt.Errorf("token balances not supported on %q", chain)
	}
	return s.sol.TokenBalances(ctx, address)
}

// GetHistory assembles the unified transfer history for an address: every
// source fetched, token fees reconciled, records deduplicated, then filtered
// and truncated per the options, newest first.
func (s *Service) GetHistory(ctx context.Context, chain, address string, opts HistoryOptions) ([]ledger.Transaction, error) {
	var unified []ledger.Transaction

	switch {
	case chain == "solana":
		if err := solana.ValidateAddress(address); err != nil {
			return nil, err
		}
		history, err := s.sol.FetchHistory(ctx, address)
		if err != nil {
			return nil, err
		}
		unified = ledger.Unify(history)
	default:
		src, ok := s.evm[chain]
		if !ok {
			return nil, fmt.Errorf("unsupported chain %q", chain)
		}
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid %s address %q", chain, address)
		}
		streams, err := s.fetchExplorerStreams(ctx, src, address, opts)
		if err != nil {
			return nil, err
		}
		unified = ledger.Unify(streams...)
	}

	return applyOptions(unified, opts), nil
}

// fetchExplorerStreams runs the five explorer sources concurrently and waits
// for all of them, collecting per-source failures instead of aborting on the
// first one. Sources degrade independently: a failed stream contributes
// nothing, the rest still count. Only total failure, every source down with
// no records at all, is an error.
func (s *Service) fetchExplorerStreams(ctx context.Context, src *evmSource, address string, opts HistoryOptions) ([][]ledger.Transaction, error) {
	window := s.blockWindow(src.client.Chain(), opts)

	type sourceFn struct {
		name  string
		fetch func(context.Context, string, explorer.BlockWindow) ([]ledger.Transaction, error)
	}
	sources := []sourceFn{
		{"native", src.fetcher.FetchNative},
		{"internal", src.fetcher.FetchInternal},
		{"token", src.fetcher.FetchTokenTransfers},
		{"mining", src.fetcher.FetchMiningRewards},
		{"withdrawals", src.fetcher.FetchValidatorWithdrawals},
	}

	results := make([][]ledger.Transaction, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source sourceFn) {
			defer wg.Done()
			records, err := source.fetch(ctx, address, window)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", source.name, err)
				return
			}
			results[i] = records
		}(i, source)
	}
	wg.Wait()

	var failed int
	var firstErr error
	for _, err := range errs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Printf("source degraded chain=%s address=%s: %v", src.client.Chain().Name, address, err)
		}
	}
	if failed == len(sources) {
		return nil, fmt.Errorf("all sources failed for %s: %w", src.client.Chain().Name, firstErr)
	}

	// Token fees are completed from the native stream before unification so
	// the deduplicator sees the best version of each record.
	const nativeIdx, tokenIdx = 0, 2
	results[tokenIdx] = src.fetcher.ReconcileTokenFees(ctx, results[tokenIdx], results[nativeIdx])

	return results, nil
}

// blockWindow derives a coarse block range from a recent start date. The
// window start is widened by a margin so the linear estimate's drift cannot
// drop boundary records; exact filtering still happens on timestamps.
func (s *Service) blockWindow(cfg explorer.ChainConfig, opts HistoryOptions) explorer.BlockWindow {
	if opts.Start.IsZero() || s.now().Sub(opts.Start) > prefilterHorizon {
		return explorer.BlockWindow{}
	}
	return explorer.BlockWindow{
		Start: cfg.ApproxBlockAt(opts.Start.Add(-prefilterMargin)),
	}
}

// applyOptions filters by date and currency, then truncates. Truncation is
// last: it must act on the final unified ledger, never on raw streams.
func applyOptions(records []ledger.Transaction, opts HistoryOptions) []ledger.Transaction {
	filtered := records[:0:0]
	for _, tx := range records {
		when := tx.Time()
		if !opts.Start.IsZero() && when.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && when.After(opts.End) {
			continue
		}
		if opts.Currency != "" && !strings.EqualFold(tx.Currency, opts.Currency) {
			continue
		}
		filtered = append(filtered, tx)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}
