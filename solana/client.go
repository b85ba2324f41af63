// Package solana implements the JSON-RPC gateway and fetcher for the
// Solana chain family. The request shape differs from the explorer REST
// family (method dispatch over a single POST endpoint), but the cache and
// retry philosophy is the same.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"chainledger/cache"
	"chainledger/logging"
	"chainledger/ratelimit"
)

const (
	// DefaultEndpoint is the public mainnet RPC.
	DefaultEndpoint = "https://api.mainnet-beta.solana.com"

	// TokenProgramID is the SPL token program owning all token accounts.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	cacheTTL        = 15 * time.Minute
	cacheMaxEntries = 4096
	maxRetries      = 3
	backoffBase     = time.Second
	backoffCap      = 8 * time.Second
	httpTimeout     = 30 * time.Second

	requestsPerSecond = 8
	requestBurst      = 4
)

var requestCounter uint64

func nextRequestID() string {
	counter := atomic.AddUint64(&requestCounter, 1)
	return strconv.FormatUint(counter, 10)
}

// RPCError is a logical failure reported by the RPC endpoint.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s (%d): %s", e.Method, e.Code, e.Message)
}

// Client talks to a Solana-style JSON-RPC endpoint with a TTL response cache
// and rate-limit-aware retries. Like the explorer gateway, it degrades to an
// empty result when throttling persists past the retry budget, so callers
// can keep partial data.
type Client struct {
	endpoint   string
	httpClient *http.Client
	responses  *cache.TTL[json.RawMessage]
	limiter    ratelimit.Limiter
	logger     logging.Logger
	sleep      func(time.Duration)
}

// NewClient constructs a gateway for the given RPC endpoint.
func NewClient(endpoint string, logger logging.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: httpTimeout},
		responses:  cache.NewTTL[json.RawMessage](cacheMaxEntries, cacheTTL),
		limiter:    ratelimit.NewTokenBucket(requestsPerSecond, requestBurst),
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// FlushCache drops every cached response.
func (c *Client) FlushCache() { c.responses.Flush() }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func isThrottled(status int, rpcErr *rpcErrorBody) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if rpcErr == nil {
		return false
	}
	if rpcErr.Code == -32005 {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// call issues one RPC method invocation. A non-empty cacheKey makes the
// response cacheable. Throttled calls are retried with the shared backoff
// schedule and finally degrade to a null result.
func (c *Client) call(ctx context.Context, method string, params []any, cacheKey string) (json.RawMessage, error) {
	if cacheKey != "" {
		if payload, ok := c.responses.Get(cacheKey); ok {
			return payload, nil
		}
	}

	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      nextRequestID(),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	for attempt := 0; ; attempt++ {
		status, env, err := c.post(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("rpc %s: %w", method, err)
		}

		if isThrottled(status, env.Error) {
			if attempt < maxRetries {
				delay := backoffDelay(attempt)
				c.logger.Printf("throttled method=%s attempt=%d backoff=%s", method, attempt+1, delay)
				c.sleep(delay)
				continue
			}
			c.logger.Printf("rate limit exhausted method=%s, returning empty result", method)
			return json.RawMessage("null"), nil
		}

		if status >= 300 {
			return nil, &RPCError{Method: method, Code: status, Message: "unexpected http status"}
		}
		if env.Error != nil {
			return nil, &RPCError{Method: method, Code: env.Error.Code, Message: env.Error.Message}
		}

		if cacheKey != "" {
			c.responses.Add(cacheKey, env.Result)
		}
		return env.Result, nil
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (c *Client) post(ctx context.Context, body []byte) (int, rpcEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, rpcEnvelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, rpcEnvelope{}, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, rpcEnvelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, rpcEnvelope{}, nil
	}

	var env rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, rpcEnvelope{}, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, env, nil
}

// GetBalance retrieves the lamport balance for the provided address.
// Accounts that do not exist yet are a normal condition and read as zero.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	raw, err := c.call(ctx, "getBalance", []any{
		address,
		map[string]string{"commitment": "confirmed"},
	}, "balance|"+address)
	if err != nil {
		var rpcErr *RPCError
		if asRPCError(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "could not find account") {
			return 0, nil
		}
		return 0, err
	}

	var result struct {
		Value uint64 `json:"value"`
	}
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("balance response missing result")
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return result.Value, nil
}

func asRPCError(err error, target **RPCError) bool {
	e, ok := err.(*RPCError)
	if ok {
		*target = e
	}
	return ok
}

// SignatureInfo references one transaction touching an address.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
}

// GetSignaturesForAddress returns the most recent signatures for the address,
// paged with the before cursor.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int, before string) ([]SignatureInfo, error) {
	if limit <= 0 {
		limit = 1
	}
	config := map[string]any{
		"limit":      limit,
		"commitment": "confirmed",
	}
	if before != "" {
		config["before"] = before
	}

	cacheKey := strings.Join([]string{"signatures", address, strconv.Itoa(limit), before}, "|")
	raw, err := c.call(ctx, "getSignaturesForAddress", []any{address, config}, cacheKey)
	if err != nil {
		var rpcErr *RPCError
		if asRPCError(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "could not find account") {
			return nil, nil
		}
		return nil, err
	}

	var result []SignatureInfo
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	return result, nil
}

// TokenBalance is a pre/post token balance entry from transaction metadata.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// TransactionDetail is the subset of getTransaction the fetcher needs.
type TransactionDetail struct {
	Slot              uint64
	BlockTime         *int64
	Fee               uint64
	Err               json.RawMessage
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

type rawTransactionResult struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Fee               uint64          `json:"fee"`
		Err               json.RawMessage `json:"err"`
		PreBalances       []uint64        `json:"preBalances"`
		PostBalances      []uint64        `json:"postBalances"`
		PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
		PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction *struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a parsed transaction. Confirmed transactions are
// immutable, so results are cached by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	raw, err := c.call(ctx, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}, "transaction|"+signature)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("transaction %s not found", signature)
	}

	var result rawTransactionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	detail := &TransactionDetail{
		Slot:      result.Slot,
		BlockTime: result.BlockTime,
	}
	if result.Transaction != nil {
		for _, key := range result.Transaction.Message.AccountKeys {
			detail.AccountKeys = append(detail.AccountKeys, key.Pubkey)
		}
	}
	if result.Meta != nil {
		detail.Fee = result.Meta.Fee
		detail.PreBalances = result.Meta.PreBalances
		detail.PostBalances = result.Meta.PostBalances
		detail.PreTokenBalances = result.Meta.PreTokenBalances
		detail.PostTokenBalances = result.Meta.PostTokenBalances
		if trimmed := bytes.TrimSpace(result.Meta.Err); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			detail.Err = append([]byte(nil), trimmed...)
		}
	}
	return detail, nil
}

// TokenHolding is one SPL token account balance owned by an address.
type TokenHolding struct {
	Mint     string
	Amount   string
	Decimals int32
}

// GetParsedTokenAccountsByOwner lists the owner's SPL token balances.
func (c *Client) GetParsedTokenAccountsByOwner(ctx context.Context, owner string) ([]TokenHolding, error) {
	raw, err := c.call(ctx, "getParsedTokenAccountsByOwner", []any{
		owner,
		map[string]string{"programId": TokenProgramID},
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	}, "tokenaccounts|"+owner)
	if err != nil {
		return nil, err
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals int32  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode token accounts: %w", err)
	}

	holdings := make([]TokenHolding, 0, len(result.Value))
	for _, entry := range result.Value {
		info := entry.Account.Data.Parsed.Info
		holdings = append(holdings, TokenHolding{
			Mint:     info.Mint,
			Amount:   info.TokenAmount.Amount,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return holdings, nil
}
