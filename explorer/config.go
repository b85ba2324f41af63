package explorer

import (
	"time"
)

// DefaultBaseURL is the unified multi-chain explorer endpoint. Individual
// networks are selected with the chainid query parameter.
const DefaultBaseURL = "https://api.etherscan.io/v2/api"

// GasBracket gives a typical historical gas price for blocks up to a height.
// Used as a last-resort fee estimate when even the receipt reports a zero
// price. The values are calibrated approximations, not exact data.
type GasBracket struct {
	UpToBlock uint64
	GweiPrice int64
}

// ChainConfig carries everything chain-specific the gateway and fetcher need:
// request shape (chain id), response shape (native symbol and exponent),
// pagination sizing and pacing, and the fee-estimate brackets.
type ChainConfig struct {
	Name     string
	ChainID  int64
	Symbol   string
	Decimals int32

	// PageSize is the explorer's maximum records per call; chains known to
	// rate-limit aggressively use a smaller page with a longer pause.
	PageSize  int
	PagePause time.Duration

	// GenesisUnix and BlockSeconds support the linear block-height
	// approximation used for coarse date pre-filtering.
	GenesisUnix  int64
	BlockSeconds float64

	GasBrackets []GasBracket
}

// Chains lists the explorer-family networks the engine models.
var Chains = map[string]ChainConfig{
	"ethereum": {
		Name:         "ethereum",
		ChainID:      1,
		Symbol:       "ETH",
		Decimals:     18,
		PageSize:     1000,
		PagePause:    250 * time.Millisecond,
		GenesisUnix:  1438269973,
		BlockSeconds: 12.1,
	},
	"bsc": {
		Name:         "bsc",
		ChainID:      56,
		Symbol:       "BNB",
		Decimals:     18,
		PageSize:     300,
		PagePause:    500 * time.Millisecond,
		GenesisUnix:  1598671449,
		BlockSeconds: 3.0,
		// BscScan receipts report a zero gas price for some older blocks;
		// these brackets substitute typical prices for those eras.
		GasBrackets: []GasBracket{
			{UpToBlock: 12_000_000, GweiPrice: 20},
			{UpToBlock: 25_000_000, GweiPrice: 5},
			{UpToBlock: ^uint64(0), GweiPrice: 3},
		},
	},
}

// ApproxBlockAt linearly estimates the block height at time t. The estimate
// is only suitable as a coarse pre-filter: callers must still filter results
// by exact timestamps so boundary records are not silently excluded.
func (c ChainConfig) ApproxBlockAt(t time.Time) uint64 {
	if c.BlockSeconds <= 0 {
		return 0
	}
	elapsed := t.Unix() - c.GenesisUnix
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(elapsed) / c.BlockSeconds)
}

// bracketGasPrice returns the heuristic gwei price for a block height, or
// zero when the chain has no bracket table.
func bracketGasPrice(brackets []GasBracket, blockNumber uint64) int64 {
	for _, b := range brackets {
		if blockNumber <= b.UpToBlock {
			return b.GweiPrice
		}
	}
	return 0
}
