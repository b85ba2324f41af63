package ledger

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultTokenDecimals is assumed when a token endpoint omits the decimal
// count for a contract.
const DefaultTokenDecimals = 18

// BaseUnitsToDecimal converts an integer base-unit string (wei, lamports,
// gwei, raw token units) into a decimal amount. Malformed input yields zero;
// unit conversion has no other failure mode.
func BaseUnitsToDecimal(raw string, decimals int32) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value.Shift(-decimals)
}

// TokenUnitsToDecimal converts raw token units using the decimal count the
// source reported as a string, defaulting when it is absent or malformed.
func TokenUnitsToDecimal(raw, reportedDecimals string) decimal.Decimal {
	return BaseUnitsToDecimal(raw, ParseTokenDecimals(reportedDecimals))
}

// ParseTokenDecimals parses an endpoint-reported decimal count, falling back
// to DefaultTokenDecimals for empty or unparseable values.
func ParseTokenDecimals(reported string) int32 {
	reported = strings.TrimSpace(reported)
	if reported == "" {
		return DefaultTokenDecimals
	}
	n, err := strconv.ParseInt(reported, 10, 32)
	if err != nil || n < 0 {
		return DefaultTokenDecimals
	}
	return int32(n)
}

// TokenInfo describes a known token contract.
type TokenInfo struct {
	Symbol   string
	Decimals int32
}

// knownTokens maps chain -> lowercased contract address -> token identity.
// The table covers the contracts the dashboard sees most; anything else gets
// a synthetic symbol so distinct unknown tokens stay distinguishable.
var knownTokens = map[string]map[string]TokenInfo{
	"ethereum": {
		"0xdac17f958d2ee523a2206206994597c13d831ec7": {Symbol: "USDT", Decimals: 6},
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {Symbol: "USDC", Decimals: 6},
		"0x6b175474e89094c44da98b954eedeac495271d0f": {Symbol: "DAI", Decimals: 18},
		"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": {Symbol: "WBTC", Decimals: 8},
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": {Symbol: "WETH", Decimals: 18},
		"0x514910771af9ca656af840dff83e8264ecf986ca": {Symbol: "LINK", Decimals: 18},
	},
	"bsc": {
		"0x55d398326f99059ff775485246999027b3197955": {Symbol: "USDT", Decimals: 18},
		"0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d": {Symbol: "USDC", Decimals: 18},
		"0xe9e7cea3dedca5984780bafc599bd69add087d56": {Symbol: "BUSD", Decimals: 18},
		"0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c": {Symbol: "WBNB", Decimals: 18},
		"0x7130d2a12b9bcbfae4f2634d864a1ee1ce3ead9c": {Symbol: "BTCB", Decimals: 18},
	},
	"solana": {
		"epjfwdd5aufqssqem2qn1xzybapc8g4weggkzwytdt1v": {Symbol: "USDC", Decimals: 6},
		"es9vmfrzacermjfrf4h2fyd4kconky11mcce8benwnyb": {Symbol: "USDT", Decimals: 6},
		"so11111111111111111111111111111111111111112": {Symbol: "WSOL", Decimals: 9},
	},
}

// ResolveToken returns the identity for a token contract on a chain. Unknown
// contracts synthesize a symbol from the contract address rather than
// collapsing into a generic bucket.
func ResolveToken(chain, contract string) TokenInfo {
	if table, ok := knownTokens[strings.ToLower(chain)]; ok {
		if info, ok := table[strings.ToLower(contract)]; ok {
			return info
		}
	}
	return TokenInfo{
		Symbol:   SyntheticSymbol(contract),
		Decimals: DefaultTokenDecimals,
	}
}

// SyntheticSymbol derives a stable placeholder symbol from the first eight
// characters of a contract address (hex prefix stripped).
func SyntheticSymbol(contract string) string {
	s := strings.TrimPrefix(strings.TrimSpace(contract), "0x")
	if len(s) > 8 {
		s = s[:8]
	}
	if s == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(s)
}
