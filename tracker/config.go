// Package tracker is the façade over the per-chain clients: one entry point
// for balances and unified transfer history across every supported chain.
package tracker

import (
	"os"
	"strings"
)

// Config carries the credentials and endpoints for every chain family.
// Explorer keys are per chain so differently provisioned keys can coexist;
// when only one is set it serves both explorer chains, since the unified
// endpoint accepts a single key across chain ids.
type Config struct {
	EtherscanAPIKey string
	BscscanAPIKey   string
	SolanaRPCURL    string
}

// ConfigFromEnv assembles configuration from the environment.
//
//	ETHERSCAN_API_KEY  explorer credential for ethereum (and bsc fallback)
//	BSCSCAN_API_KEY    explorer credential for bsc (and ethereum fallback)
//	SOLANA_RPC_URL     solana RPC endpoint, public mainnet when unset
func ConfigFromEnv() Config {
	cfg := Config{
		EtherscanAPIKey: envString("ETHERSCAN_API_KEY"),
		BscscanAPIKey:   envString("BSCSCAN_API_KEY"),
		SolanaRPCURL:    envString("SOLANA_RPC_URL"),
	}
	if cfg.BscscanAPIKey == "" {
		cfg.BscscanAPIKey = cfg.EtherscanAPIKey
	}
	if cfg.EtherscanAPIKey == "" {
		cfg.EtherscanAPIKey = cfg.BscscanAPIKey
	}
	return cfg
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// explorerKey returns the credential for a named explorer chain.
func (c Config) explorerKey(chain string) string {
	if chain == "bsc" {
		return c.BscscanAPIKey
	}
	return c.EtherscanAPIKey
}
