package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chainledger/ledger"
	"chainledger/logging"
)

// MaxRecordsPerSource caps pagination against misbehaving endpoints.
const MaxRecordsPerSource = 50_000

// BlockWindow optionally bounds a fetch to a block range. The zero value is
// unbounded. Windows derived from dates are approximations and may only be
// used as a coarse pre-filter.
type BlockWindow struct {
	Start uint64
	End   uint64
}

func (w BlockWindow) key() string {
	if w.Start == 0 && w.End == 0 {
		return "full"
	}
	return strconv.FormatUint(w.Start, 10) + "-" + strconv.FormatUint(w.End, 10)
}

// Fetcher drives the gateway across every record kind for one chain,
// page by page, most-recent-first, with pacing between requests.
type Fetcher struct {
	client     *Client
	pageSize   int
	pace       time.Duration
	maxRecords int
	sleep      func(time.Duration)
	logger     logging.Logger
}

// NewFetcher builds a fetcher over the given gateway. Page size and pacing
// come from the chain configuration.
func NewFetcher(client *Client, logger logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	cfg := client.Chain()
	return &Fetcher{
		client:     client,
		pageSize:   cfg.PageSize,
		pace:       cfg.PagePause,
		maxRecords: MaxRecordsPerSource,
		sleep:      time.Sleep,
		logger:     logger,
	}
}

// FetchNative returns the address's native transfers, newest first.
func (f *Fetcher) FetchNative(ctx context.Context, address string, window BlockWindow) ([]ledger.Transaction, error) {
	raws, err := fetchPaged[rawNativeTx](ctx, f, "txlist", address, window, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.client.cfg.normalizeNative(address, raw))
	}
	return out, nil
}

// FetchInternal returns contract-triggered transfers involving the address.
func (f *Fetcher) FetchInternal(ctx context.Context, address string, window BlockWindow) ([]ledger.Transaction, error) {
	raws, err := fetchPaged[rawInternalTx](ctx, f, "txlistinternal", address, window, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.client.cfg.normalizeInternal(address, raw))
	}
	return out, nil
}

// FetchTokenTransfers returns token transfer events for the address. Gas data
// on these records is frequently absent; ReconcileTokenFees completes it.
func (f *Fetcher) FetchTokenTransfers(ctx context.Context, address string, window BlockWindow) ([]ledger.Transaction, error) {
	raws, err := fetchPaged[rawTokenTx](ctx, f, "tokentx", address, window, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.client.cfg.normalizeToken(address, raw))
	}
	return out, nil
}

// FetchMiningRewards returns block rewards credited to the address.
func (f *Fetcher) FetchMiningRewards(ctx context.Context, address string, window BlockWindow) ([]ledger.Transaction, error) {
	extra := url.Values{}
	extra.Set("blocktype", "blocks")
	raws, err := fetchPaged[rawMinedBlock](ctx, f, "getminedblocks", address, window, extra)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.client.cfg.normalizeMinedBlock(address, raw))
	}
	return out, nil
}

// FetchValidatorWithdrawals returns beacon-chain withdrawals credited to the
// address.
func (f *Fetcher) FetchValidatorWithdrawals(ctx context.Context, address string, window BlockWindow) ([]ledger.Transaction, error) {
	raws, err := fetchPaged[rawWithdrawal](ctx, f, "txsBeaconWithdrawal", address, window, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, f.client.cfg.normalizeWithdrawal(address, raw))
	}
	return out, nil
}

// fetchPaged iterates one source until a short page, an empty page, or the
// safety cap ends it. Pages within a source are strictly sequential: each
// page's cursor depends on exhausting the previous one.
func fetchPaged[T any](ctx context.Context, f *Fetcher, action, address string, window BlockWindow, extra url.Values) ([]T, error) {
	var out []T
	chain := f.client.Chain()

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("module", "account")
		params.Set("action", action)
		params.Set("address", address)
		params.Set("page", strconv.Itoa(page))
		params.Set("offset", strconv.Itoa(f.pageSize))
		params.Set("sort", "desc")
		if window.Start > 0 {
			params.Set("startblock", strconv.FormatUint(window.Start, 10))
		}
		if window.End > 0 {
			params.Set("endblock", strconv.FormatUint(window.End, 10))
		}
		for key, values := range extra {
			params[key] = values
		}

		cacheKey := strings.Join([]string{
			chain.Name, action, strings.ToLower(address),
			strconv.Itoa(page), strconv.Itoa(f.pageSize), window.key(),
		}, "|")

		raw, err := f.client.Request(ctx, params, cacheKey)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", action, page, err)
		}

		var batch []T
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", action, page, err)
		}

		out = append(out, batch...)

		if len(batch) < f.pageSize {
			break
		}
		if len(out) >= f.maxRecords {
			f.logger.Printf("safety cap hit chain=%s action=%s records=%d", chain.Name, action, len(out))
			break
		}

		f.sleep(f.pace)
	}
	return out, nil
}
