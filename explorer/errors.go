package explorer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCredential indicates that no usable API credential is configured for
// the requested chain. This is the one failure the gateway refuses to degrade
// around: it is surfaced before any network call is attempted.
var ErrNoCredential = errors.New("no explorer credential configured")

// RemoteError is a logical failure reported by the explorer that is neither
// throttling nor a credential problem.
type RemoteError struct {
	Chain   string
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("explorer %s/%s: %s", e.Chain, e.Action, e.Message)
}

// FailureKind classifies a logical failure message from the explorer.
type FailureKind int

const (
	// FailureRemote is any unrecognised logical failure; it propagates as a
	// *RemoteError.
	FailureRemote FailureKind = iota
	// FailureRateLimited means the remote signalled throttling; the gateway
	// retries with backoff and finally degrades to an empty result.
	FailureRateLimited
	// FailureConfiguration means the credential was rejected; never retried.
	FailureConfiguration
	// FailureEmptyResult is a "nothing found" response: a valid empty result,
	// not an error.
	FailureEmptyResult
)

// ClassifierRule maps a message predicate to a failure kind. Rules are
// evaluated in order; the first match wins.
type ClassifierRule struct {
	Kind  FailureKind
	Match func(message string) bool
}

// PhraseRule builds a rule that matches when the message contains any of the
// given phrases, case-insensitively.
func PhraseRule(kind FailureKind, phrases ...string) ClassifierRule {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return ClassifierRule{
		Kind: kind,
		Match: func(message string) bool {
			m := strings.ToLower(message)
			for _, p := range lowered {
				if strings.Contains(m, p) {
					return true
				}
			}
			return false
		},
	}
}

// DefaultClassifier covers the explorer wordings observed in the wild. The
// phrase lists are inherently fragile against upstream changes, so callers
// can install an extended rule set on the client.
var DefaultClassifier = []ClassifierRule{
	PhraseRule(FailureEmptyResult,
		"no transactions found",
		"no internal transactions found",
		"no token transfers found",
		"no records found",
		"no withdrawals found",
	),
	PhraseRule(FailureRateLimited,
		"rate limit",
		"too many requests",
		"max calls per sec",
	),
	PhraseRule(FailureConfiguration,
		"invalid api key",
		"missing api key",
		"api key required",
	),
}

// Classify runs message through rules and returns the first matching kind,
// defaulting to FailureRemote.
func Classify(rules []ClassifierRule, message string) FailureKind {
	for _, rule := range rules {
		if rule.Match(message) {
			return rule.Kind
		}
	}
	return FailureRemote
}
