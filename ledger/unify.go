package ledger

import (
	"sort"
	"strings"
)

// identityKey is the deduplication key: records sharing (hash, currency,
// direction) are candidates for merge. Internal transfers live in their own
// namespace so they are never collapsed into the transaction that triggered
// them, even when a native record shares their hash.
func identityKey(t Transaction) string {
	namespace := "std"
	if t.IsInternal {
		namespace = "internal"
	}
	return namespace + "|" + strings.ToLower(t.Hash) + "|" + strings.ToUpper(t.Currency) + "|" + string(t.Direction)
}

// Unify merges any number of record streams into one canonical list, sorted
// by timestamp descending. It is stable and idempotent: running it twice on
// the same input yields the same output. Truncation to a caller limit must
// happen after unification, never before.
func Unify(streams ...[]Transaction) []Transaction {
	merged := make(map[string]Transaction)
	var order []string

	for _, stream := range streams {
		for _, tx := range stream {
			key := identityKey(tx)
			existing, ok := merged[key]
			if !ok {
				merged[key] = tx
				order = append(order, key)
				continue
			}
			merged[key] = preferRecord(existing, tx)
		}
	}

	out := make([]Transaction, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

// preferRecord applies the merge rule to two candidates sharing an identity
// key: a record carrying a non-zero gas fee wins over one without; otherwise
// the first-seen record is kept.
func preferRecord(existing, candidate Transaction) Transaction {
	if existing.GasFee.IsZero() && !candidate.GasFee.IsZero() {
		return candidate
	}
	return existing
}
