package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"chainledger/ledger"
	"chainledger/logging"
)

const (
	// Amounts arrive in lamports, 1e9 per SOL.
	lamportDecimals = 9

	signaturePageSize = 100
	lookupPace        = 200 * time.Millisecond

	// MaxSignatures caps signature pagination against very busy addresses.
	MaxSignatures = 50_000
)

// Fetcher builds ledger records for an address by walking its signature list
// and resolving each transaction's balance deltas.
type Fetcher struct {
	client   *Client
	pageSize int
	pace     time.Duration
	maxSigs  int
	sleep    func(time.Duration)
	logger   logging.Logger
}

// NewFetcher builds a fetcher over the given RPC gateway.
func NewFetcher(client *Client, logger logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Fetcher{
		client:   client,
		pageSize: signaturePageSize,
		pace:     lookupPace,
		maxSigs:  MaxSignatures,
		sleep:    time.Sleep,
		logger:   logger,
	}
}

// ValidateAddress reports whether the string is a well-formed public key.
func ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return nil
}

// Balance returns the address's SOL balance in decimal units.
func (f *Fetcher) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}
	lamports, err := f.client.GetBalance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromUint64(lamports).Shift(-lamportDecimals), nil
}

// TokenBalances returns the address's SPL token balances in decimal units,
// with symbols resolved from the known-token table or synthesized from the
// mint address.
func (f *Fetcher) TokenBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	holdings, err := f.client.GetParsedTokenAccountsByOwner(ctx, address)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	for _, h := range holdings {
		amount := ledger.BaseUnitsToDecimal(h.Amount, h.Decimals)
		if amount.IsZero() {
			continue
		}
		symbol := ledger.ResolveToken("solana", h.Mint).Symbol
		balances[symbol] = balances[symbol].Add(amount)
	}
	return balances, nil
}

// FetchHistory returns the address's transfer history, newest first. Each
// signature yields a native record for the SOL delta at the address, plus one
// token record per SPL balance the transaction moved for the address.
//
// A transaction that cannot be resolved is skipped, not fatal: one opaque
// record does not invalidate the rest of the history.
func (f *Fetcher) FetchHistory(ctx context.Context, address string) ([]ledger.Transaction, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	sigs, err := f.fetchSignatures(ctx, address)
	if err != nil {
		return nil, err
	}

	var out []ledger.Transaction
	for i, sig := range sigs {
		if !validSignature(sig.Signature) {
			f.logger.Printf("skipping malformed signature %q", sig.Signature)
			continue
		}

		detail, err := f.client.GetTransaction(ctx, sig.Signature)
		if err != nil {
			f.logger.Printf("skipping signature %s: %v", sig.Signature, err)
			continue
		}

		out = append(out, f.recordsFor(address, sig, detail)...)

		if i < len(sigs)-1 {
			f.sleep(f.pace)
		}
	}
	return out, nil
}

// fetchSignatures pages the address's signature list via the before cursor
// until a short page or the safety cap ends it.
func (f *Fetcher) fetchSignatures(ctx context.Context, address string) ([]SignatureInfo, error) {
	var out []SignatureInfo
	before := ""

	for {
		batch, err := f.client.GetSignaturesForAddress(ctx, address, f.pageSize, before)
		if err != nil {
			return nil, fmt.Errorf("fetch signatures: %w", err)
		}
		out = append(out, batch...)

		if len(batch) < f.pageSize {
			break
		}
		if len(out) >= f.maxSigs {
			f.logger.Printf("safety cap hit address=%s signatures=%d", address, len(out))
			break
		}

		before = batch[len(batch)-1].Signature
		f.sleep(f.pace)
	}
	return out, nil
}

// validSignature checks that the string decodes as a 64-byte base58 value.
func validSignature(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 64
}

// recordsFor derives ledger records from one transaction's balance metadata.
func (f *Fetcher) recordsFor(address string, sig SignatureInfo, detail *TransactionDetail) []ledger.Transaction {
	var out []ledger.Transaction

	status := ledger.StatusSuccess
	if len(detail.Err) > 0 {
		status = ledger.StatusFailed
	}

	timestamp := sig.BlockTime
	if detail.BlockTime != nil {
		timestamp = detail.BlockTime
	}
	var millis int64
	if timestamp != nil {
		millis = *timestamp * 1000
	}

	isPayer := len(detail.AccountKeys) > 0 && ledger.SameAddress(detail.AccountKeys[0], address)

	tokens := f.tokenRecords(address, sig, detail, status, millis, isPayer)

	// A fee-only SOL delta next to token movement adds nothing: the fee is
	// already attributed on the outgoing token record.
	if native, ok := f.nativeRecord(address, sig, detail, status, millis, isPayer); ok {
		if !(native.Amount.IsZero() && len(tokens) > 0) {
			out = append(out, native)
		}
	}
	out = append(out, tokens...)
	return out
}

// nativeRecord derives the SOL movement for the address from the pre/post
// lamport balances. The fee is charged to the fee payer; for the payer's
// outgoing record the transferred amount excludes it so amount and fee stay
// separate figures, as on the other chains.
func (f *Fetcher) nativeRecord(address string, sig SignatureInfo, detail *TransactionDetail, status ledger.Status, millis int64, isPayer bool) (ledger.Transaction, bool) {
	index := -1
	for i, key := range detail.AccountKeys {
		if ledger.SameAddress(key, address) {
			index = i
			break
		}
	}
	if index < 0 || index >= len(detail.PreBalances) || index >= len(detail.PostBalances) {
		return ledger.Transaction{}, false
	}

	delta := int64(detail.PostBalances[index]) - int64(detail.PreBalances[index])

	var fee decimal.Decimal
	var gasUsed uint64
	if isPayer {
		fee = decimal.NewFromUint64(detail.Fee).Shift(-lamportDecimals)
		gasUsed = detail.Fee
		// The raw delta already includes the fee the payer was charged.
		delta += int64(detail.Fee)
	}

	if delta == 0 && !isPayer {
		return ledger.Transaction{}, false
	}

	direction := ledger.DirectionIncoming
	to := address
	from := ""
	if len(detail.AccountKeys) > 0 {
		from = detail.AccountKeys[0]
	}
	if delta < 0 || (delta == 0 && isPayer) {
		direction = ledger.DirectionOutgoing
		from = address
		to = counterparty(address, detail)
		delta = -delta
	}

	return ledger.Transaction{
		Hash:        sig.Signature,
		BlockNumber: sig.Slot,
		Timestamp:   millis,
		From:        from,
		To:          to,
		Amount:      decimal.NewFromInt(delta).Shift(-lamportDecimals),
		Currency:    "SOL",
		Direction:   direction,
		Status:      status,
		GasUsed:     gasUsed,
		GasFee:      fee,
		Kind:        ledger.KindNative,
	}, true
}

// counterparty picks the first account other than the queried address that
// gained lamports, best effort.
func counterparty(address string, detail *TransactionDetail) string {
	for i, key := range detail.AccountKeys {
		if ledger.SameAddress(key, address) {
			continue
		}
		if i < len(detail.PreBalances) && i < len(detail.PostBalances) &&
			detail.PostBalances[i] > detail.PreBalances[i] {
			return key
		}
	}
	return ""
}

// tokenRecords derives SPL movements for the address from the pre/post token
// balance metadata. Balances are matched by account index; an account absent
// on one side reads as zero there.
func (f *Fetcher) tokenRecords(address string, sig SignatureInfo, detail *TransactionDetail, status ledger.Status, millis int64, isPayer bool) []ledger.Transaction {
	type holding struct {
		mint   string
		amount decimal.Decimal
	}

	pre := make(map[int]holding)
	for _, b := range detail.PreTokenBalances {
		if !ledger.SameAddress(b.Owner, address) {
			continue
		}
		pre[b.AccountIndex] = holding{
			mint:   b.Mint,
			amount: ledger.BaseUnitsToDecimal(b.UITokenAmount.Amount, b.UITokenAmount.Decimals),
		}
	}

	seen := make(map[int]bool)
	var out []ledger.Transaction

	emit := func(mint string, delta decimal.Decimal) {
		if delta.IsZero() {
			return
		}
		symbol := ledger.ResolveToken("solana", mint).Symbol

		direction := ledger.DirectionIncoming
		to := address
		from := ""
		var fee decimal.Decimal
		var gasUsed uint64
		if delta.IsNegative() {
			direction = ledger.DirectionOutgoing
			from = address
			to = ""
			delta = delta.Neg()
			if isPayer {
				fee = decimal.NewFromUint64(detail.Fee).Shift(-lamportDecimals)
				gasUsed = detail.Fee
			}
		}

		out = append(out, ledger.Transaction{
			Hash:            sig.Signature,
			BlockNumber:     sig.Slot,
			Timestamp:       millis,
			From:            from,
			To:              to,
			Amount:          delta,
			Currency:        symbol,
			Direction:       direction,
			Status:          status,
			GasUsed:         gasUsed,
			GasFee:          fee,
			ContractAddress: mint,
			Kind:            ledger.KindToken,
		})
	}

	for _, b := range detail.PostTokenBalances {
		if !ledger.SameAddress(b.Owner, address) {
			continue
		}
		seen[b.AccountIndex] = true
		post := ledger.BaseUnitsToDecimal(b.UITokenAmount.Amount, b.UITokenAmount.Decimals)
		prior := pre[b.AccountIndex]
		emit(b.Mint, post.Sub(prior.amount))
	}

	// Accounts emptied and closed appear only on the pre side.
	for index, prior := range pre {
		if seen[index] {
			continue
		}
		emit(prior.mint, prior.amount.Neg())
	}

	return out
}
