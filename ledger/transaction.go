// Package ledger defines the canonical transaction model produced by every
// chain client, plus the pure normalization and unification logic that turns
// per-endpoint record streams into one de-duplicated history.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether value moved toward or away from the queried address.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status reflects on-chain execution outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// RecordKind identifies which source endpoint a record came from.
type RecordKind string

const (
	KindNative               RecordKind = "native"
	KindInternal             RecordKind = "internal"
	KindToken                RecordKind = "token"
	KindMiningReward         RecordKind = "mining-reward"
	KindValidatorWithdrawal  RecordKind = "validator-withdrawal"
)

// Transaction is the canonical unit flowing through the system. A single
// on-chain transaction can yield several of these: a native record, an
// internal record, and one or more token records, all sharing a hash.
// Values are never mutated once placed in a unified list; reconciliation
// works on copies.
type Transaction struct {
	Hash        string
	BlockNumber uint64
	Timestamp   int64 // epoch milliseconds, derived from block time
	From        string
	To          string
	Amount      decimal.Decimal
	Currency    string
	Direction   Direction
	Status      Status

	GasUsed         uint64
	GasFee          decimal.Decimal
	GasFeeEstimated bool // fee is a block-height heuristic, not exact

	ContractAddress string
	Kind            RecordKind

	// IsInternal marks contract-triggered value movement, which is distinct
	// from any other record sharing its hash and must survive deduplication.
	IsInternal bool
}

// Time returns the record's timestamp as a time.Time.
func (t Transaction) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// NeedsFeeReconciliation reports whether this record should have its gas fee
// completed from a companion source. Incoming transfers never attribute the
// payer's gas cost to the receiver.
func (t Transaction) NeedsFeeReconciliation() bool {
	return t.Kind == KindToken && t.Direction == DirectionOutgoing && t.GasFee.IsZero()
}

// DirectionFor computes the record direction for the queried address.
// Address comparison is case-insensitive across every supported chain.
func DirectionFor(queried, to string) Direction {
	if strings.EqualFold(queried, to) {
		return DirectionIncoming
	}
	return DirectionOutgoing
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// BalanceSnapshot is a point-in-time balance read. IsLive=false with a
// populated Err means the read is degraded: callers must treat the amount as
// unknown, never as an authoritative zero.
type BalanceSnapshot struct {
	Address    string
	Blockchain string
	Network    string
	Amount     decimal.Decimal
	Unit       string
	FetchedAt  time.Time
	IsLive     bool
	Err        string
}
