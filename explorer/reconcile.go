package explorer

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"chainledger/ledger"
)

// ReconcileTokenFees completes missing gas data on token records. The token
// endpoint reports the transfer event, not the enclosing transaction's
// execution cost; that cost lives on the native record sharing the hash, or
// failing that, on the transaction receipt.
//
// Only outgoing records are repaired: incoming transfers never attribute the
// payer's gas cost to the receiver. Input records are not mutated; the
// returned slice holds repaired copies, so callers can compare before and
// after when merging.
func (f *Fetcher) ReconcileTokenFees(ctx context.Context, tokens, natives []ledger.Transaction) []ledger.Transaction {
	feeByHash := make(map[string]ledger.Transaction, len(natives))
	for _, tx := range natives {
		if !tx.GasFee.IsZero() {
			feeByHash[strings.ToLower(tx.Hash)] = tx
		}
	}

	out := make([]ledger.Transaction, len(tokens))
	for i, tx := range tokens {
		out[i] = tx
		if !tx.NeedsFeeReconciliation() {
			continue
		}

		if sibling, ok := feeByHash[strings.ToLower(tx.Hash)]; ok {
			out[i].GasUsed = sibling.GasUsed
			out[i].GasFee = sibling.GasFee
			continue
		}

		fee, used, estimated, err := f.lookupFee(ctx, tx)
		if err != nil {
			// Missing fee data degrades precision, not correctness of the
			// transferred amount; the record is kept with a zero fee.
			f.logger.Printf("fee reconciliation failed chain=%s hash=%s: %v", f.client.Chain().Name, tx.Hash, err)
			continue
		}
		out[i].GasUsed = used
		out[i].GasFee = fee
		out[i].GasFeeEstimated = estimated

		f.sleep(f.pace)
	}
	return out
}

type rawReceipt struct {
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
}

type rawTxDetail struct {
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

// lookupFee resolves a record's fee from its receipt, falling back to the raw
// transaction detail, and finally to the chain's historical gas-price
// brackets when the remote reports a zero price.
func (f *Fetcher) lookupFee(ctx context.Context, tx ledger.Transaction) (decimal.Decimal, uint64, bool, error) {
	cfg := f.client.Chain()

	params := url.Values{}
	params.Set("txhash", tx.Hash)
	raw, err := f.client.ProxyRequest(ctx, "eth_getTransactionReceipt", params)
	if err != nil {
		return decimal.Zero, 0, false, err
	}

	var receipt rawReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return decimal.Zero, 0, false, err
	}

	used := decodeHexUint(receipt.GasUsed)
	price := decodeHexUint(receipt.EffectiveGasPrice)

	if price == 0 {
		detailRaw, err := f.client.ProxyRequest(ctx, "eth_getTransactionByHash", params)
		if err == nil {
			var detail rawTxDetail
			if json.Unmarshal(detailRaw, &detail) == nil {
				price = decodeHexUint(detail.GasPrice)
				if used == 0 {
					used = decodeHexUint(detail.Gas)
				}
			}
		}
	}

	if used == 0 {
		return decimal.Zero, 0, false, nil
	}

	estimated := false
	if price == 0 {
		// Observed on bsc for older blocks: even the receipt reports a zero
		// price. Substitute a typical price for the block's era and flag the
		// record as estimated rather than presenting it as exact.
		gwei := bracketGasPrice(cfg.GasBrackets, tx.BlockNumber)
		if gwei == 0 {
			return decimal.Zero, used, false, nil
		}
		price = uint64(gwei) * 1_000_000_000
		estimated = true
	}

	fee := decimal.NewFromInt(int64(price)).
		Mul(decimal.NewFromInt(int64(used))).
		Shift(-cfg.Decimals)
	return fee, used, estimated, nil
}

// decodeHexUint parses a 0x-prefixed quantity, returning zero for absent or
// malformed values.
func decodeHexUint(s string) uint64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return 0
	}
	n, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0
	}
	return n
}
