package explorer

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"chainledger/ledger"
)

// Raw record shapes as the explorer returns them. Every numeric field arrives
// as a decimal string.

type rawNativeTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	ContractAddress string `json:"contractAddress"`
}

type rawInternalTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	IsError         string `json:"isError"`
}

type rawTokenTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

type rawMinedBlock struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	BlockReward string `json:"blockReward"`
}

type rawWithdrawal struct {
	WithdrawalIndex string `json:"withdrawalIndex"`
	ValidatorIndex  string `json:"validatorIndex"`
	Address         string `json:"address"`
	Amount          string `json:"amount"` // gwei
	BlockNumber     string `json:"blockNumber"`
	Timestamp       string `json:"timestamp"`
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return n
}

// parseTimestampMillis converts the explorer's epoch-second strings into
// epoch milliseconds.
func parseTimestampMillis(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n * 1000
}

// gasFee computes gasUsed x gasPrice in decimal native units.
func gasFee(gasUsed, gasPrice string, decimals int32) (uint64, decimal.Decimal) {
	used := parseUint(gasUsed)
	if used == 0 {
		return 0, decimal.Zero
	}
	price := ledger.BaseUnitsToDecimal(gasPrice, decimals)
	return used, price.Mul(decimal.NewFromInt(int64(used)))
}

func (c ChainConfig) normalizeNative(address string, raw rawNativeTx) ledger.Transaction {
	used, fee := gasFee(raw.GasUsed, raw.GasPrice, c.Decimals)
	status := ledger.StatusSuccess
	if raw.IsError == "1" || raw.TxReceiptStatus == "0" {
		status = ledger.StatusFailed
	}
	return ledger.Transaction{
		Hash:        raw.Hash,
		BlockNumber: parseUint(raw.BlockNumber),
		Timestamp:   parseTimestampMillis(raw.TimeStamp),
		From:        raw.From,
		To:          raw.To,
		Amount:      ledger.BaseUnitsToDecimal(raw.Value, c.Decimals),
		Currency:    c.Symbol,
		Direction:   ledger.DirectionFor(address, raw.To),
		Status:      status,
		GasUsed:     used,
		GasFee:      fee,
		Kind:        ledger.KindNative,
	}
}

func (c ChainConfig) normalizeInternal(address string, raw rawInternalTx) ledger.Transaction {
	status := ledger.StatusSuccess
	if raw.IsError == "1" {
		status = ledger.StatusFailed
	}
	// The gas cost of an internal transfer belongs to the outer transaction;
	// it is never attributed here.
	return ledger.Transaction{
		Hash:            raw.Hash,
		BlockNumber:     parseUint(raw.BlockNumber),
		Timestamp:       parseTimestampMillis(raw.TimeStamp),
		From:            raw.From,
		To:              raw.To,
		Amount:          ledger.BaseUnitsToDecimal(raw.Value, c.Decimals),
		Currency:        c.Symbol,
		Direction:       ledger.DirectionFor(address, raw.To),
		Status:          status,
		ContractAddress: raw.ContractAddress,
		Kind:            ledger.KindInternal,
		IsInternal:      true,
	}
}

func (c ChainConfig) normalizeToken(address string, raw rawTokenTx) ledger.Transaction {
	info := ledger.ResolveToken(c.Name, raw.ContractAddress)
	symbol := strings.TrimSpace(raw.TokenSymbol)
	if symbol == "" {
		symbol = info.Symbol
	}
	decimals := info.Decimals
	if strings.TrimSpace(raw.TokenDecimal) != "" {
		decimals = ledger.ParseTokenDecimals(raw.TokenDecimal)
	}
	used, fee := gasFee(raw.GasUsed, raw.GasPrice, c.Decimals)
	return ledger.Transaction{
		Hash:            raw.Hash,
		BlockNumber:     parseUint(raw.BlockNumber),
		Timestamp:       parseTimestampMillis(raw.TimeStamp),
		From:            raw.From,
		To:              raw.To,
		Amount:          ledger.BaseUnitsToDecimal(raw.Value, decimals),
		Currency:        symbol,
		Direction:       ledger.DirectionFor(address, raw.To),
		Status:          ledger.StatusSuccess,
		GasUsed:         used,
		GasFee:          fee,
		ContractAddress: raw.ContractAddress,
		Kind:            ledger.KindToken,
	}
}

func (c ChainConfig) normalizeMinedBlock(address string, raw rawMinedBlock) ledger.Transaction {
	return ledger.Transaction{
		Hash:        "mined-" + raw.BlockNumber,
		BlockNumber: parseUint(raw.BlockNumber),
		Timestamp:   parseTimestampMillis(raw.TimeStamp),
		To:          address,
		Amount:      ledger.BaseUnitsToDecimal(raw.BlockReward, c.Decimals),
		Currency:    c.Symbol,
		Direction:   ledger.DirectionIncoming,
		Status:      ledger.StatusSuccess,
		Kind:        ledger.KindMiningReward,
	}
}

func (c ChainConfig) normalizeWithdrawal(address string, raw rawWithdrawal) ledger.Transaction {
	// Withdrawal amounts are reported in gwei.
	return ledger.Transaction{
		Hash:        "withdrawal-" + raw.WithdrawalIndex,
		BlockNumber: parseUint(raw.BlockNumber),
		Timestamp:   parseTimestampMillis(raw.Timestamp),
		To:          address,
		Amount:      ledger.BaseUnitsToDecimal(raw.Amount, 9),
		Currency:    c.Symbol,
		Direction:   ledger.DirectionIncoming,
		Status:      ledger.StatusSuccess,
		Kind:        ledger.KindValidatorWithdrawal,
	}
}
