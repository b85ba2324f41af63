package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chainledger/cache"
	"chainledger/ledger"
	"chainledger/logging"
	"chainledger/ratelimit"
)

const (
	cacheTTL         = 15 * time.Minute
	cacheMaxEntries  = 4096
	maxRetries       = 3
	backoffBase      = time.Second
	backoffCap       = 8 * time.Second
	minCredentialLen = 8
	httpTimeout      = 30 * time.Second

	// Free-tier explorer keys allow five calls per second; stay under it.
	requestsPerSecond = 4
	requestBurst      = 2
)

// emptyResult is the degraded payload returned when a page had to be given
// up on: callers keep whatever partial data they already have.
var emptyResult = json.RawMessage("[]")

// Client is the cached, rate-aware request gateway for one explorer-family
// chain. Each instance carries its own cache, credential and limiter; there
// is no package-level state, so independently configured clients can coexist.
type Client struct {
	cfg        ChainConfig
	baseURL    string
	apiKey     string
	httpClient *http.Client
	responses  *cache.TTL[json.RawMessage]
	rules      []ClassifierRule
	limiter    ratelimit.Limiter
	logger     logging.Logger
	sleep      func(time.Duration)
}

// NewClient constructs a gateway for the given chain. The credential may be
// empty; requests will then fail with ErrNoCredential.
func NewClient(cfg ChainConfig, apiKey string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    DefaultBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: httpTimeout},
		responses:  cache.NewTTL[json.RawMessage](cacheMaxEntries, cacheTTL),
		rules:      DefaultClassifier,
		limiter:    ratelimit.NewTokenBucket(requestsPerSecond, requestBurst),
		logger:     logger,
		sleep:      time.Sleep,
	}
}

// SetBaseURL redirects the client at a different endpoint. Used to point at
// stub servers in tests and at compatible mirrors.
func (c *Client) SetBaseURL(u string) {
	if u != "" {
		c.baseURL = u
	}
}

// SetClassifier installs an extended failure-classification rule set.
func (c *Client) SetClassifier(rules []ClassifierRule) {
	if len(rules) > 0 {
		c.rules = rules
	}
}

// Chain returns the chain configuration this client serves.
func (c *Client) Chain() ChainConfig { return c.cfg }

// FlushCache drops every cached response.
func (c *Client) FlushCache() { c.responses.Flush() }

// apiEnvelope is the explorer's REST response shape. status "0" with a
// "nothing found" message is a valid empty result, not an error.
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Request issues one explorer call, merging the caller's parameters with the
// chain credential and chain id. A non-empty cacheKey makes the response
// eligible for the TTL cache; identity lookups that must be fresh pass "".
//
// Rate-limit responses are retried up to three times with exponential backoff
// and then degrade to an empty result. Rejected credentials degrade without
// retrying. Any other logical failure is returned as a *RemoteError.
func (c *Client) Request(ctx context.Context, params url.Values, cacheKey string) (json.RawMessage, error) {
	if len(c.apiKey) < minCredentialLen {
		return nil, fmt.Errorf("%w: chain %s", ErrNoCredential, c.cfg.Name)
	}

	if cacheKey != "" {
		if payload, ok := c.responses.Get(cacheKey); ok {
			return payload, nil
		}
	}

	action := params.Get("action")
	for attempt := 0; ; attempt++ {
		env, err := c.issue(ctx, params)
		if err != nil {
			return nil, err
		}

		if env.Status == "1" {
			if cacheKey != "" {
				c.responses.Add(cacheKey, env.Result)
			}
			return env.Result, nil
		}

		switch Classify(c.rules, failureText(env)) {
		case FailureEmptyResult:
			if cacheKey != "" {
				c.responses.Add(cacheKey, emptyResult)
			}
			return emptyResult, nil
		case FailureRateLimited:
			if attempt < maxRetries {
				delay := backoffDelay(attempt)
				c.logger.Printf("throttled chain=%s action=%s attempt=%d backoff=%s", c.cfg.Name, action, attempt+1, delay)
				c.sleep(delay)
				continue
			}
			c.logger.Printf("rate limit exhausted chain=%s action=%s, returning empty result", c.cfg.Name, action)
			return emptyResult, nil
		case FailureConfiguration:
			c.logger.Printf("credential rejected chain=%s action=%s message=%q", c.cfg.Name, action, env.Message)
			return emptyResult, nil
		default:
			return nil, &RemoteError{Chain: c.cfg.Name, Action: action, Message: failureText(env)}
		}
	}
}

// failureText combines the message with the result body: the explorer puts
// throttling detail ("Max rate limit reached") in result under a generic
// "NOTOK" message.
func failureText(env apiEnvelope) string {
	text := env.Message
	var detail string
	if json.Unmarshal(env.Result, &detail) == nil && detail != "" {
		text += " " + detail
	}
	return text
}

func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (c *Client) issue(ctx context.Context, params url.Values) (apiEnvelope, error) {
	merged := url.Values{}
	for key, values := range params {
		merged[key] = values
	}
	merged.Set("chainid", strconv.FormatInt(c.cfg.ChainID, 10))
	merged.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+merged.Encode(), nil)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apiEnvelope{}, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiEnvelope{}, &RemoteError{
			Chain:   c.cfg.Name,
			Action:  params.Get("action"),
			Message: fmt.Sprintf("http status %d", resp.StatusCode),
		}
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apiEnvelope{}, fmt.Errorf("decode explorer response: %w", err)
	}
	return env, nil
}

// proxyEnvelope covers the module=proxy endpoints, which answer in JSON-RPC
// shape but still fall back to the REST envelope when throttled.
type proxyEnvelope struct {
	Result  json.RawMessage `json:"result"`
	Error   *proxyError     `json:"error"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

type proxyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ProxyRequest issues a module=proxy call (transaction and receipt detail
// lookups). These are intentionally never cached: they repair individual
// records and must be fresh.
func (c *Client) ProxyRequest(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	if len(c.apiKey) < minCredentialLen {
		return nil, fmt.Errorf("%w: chain %s", ErrNoCredential, c.cfg.Name)
	}

	merged := url.Values{}
	for key, values := range params {
		merged[key] = values
	}
	merged.Set("module", "proxy")
	merged.Set("action", action)

	for attempt := 0; ; attempt++ {
		env, err := c.issueProxy(ctx, merged)
		if err != nil {
			return nil, err
		}
		if env.Error != nil {
			return nil, &RemoteError{Chain: c.cfg.Name, Action: action, Message: env.Error.Message}
		}
		if env.Status == "0" {
			text := env.Message
			var detail string
			if json.Unmarshal(env.Result, &detail) == nil && detail != "" {
				text += " " + detail
			}
			if Classify(c.rules, text) == FailureRateLimited && attempt < maxRetries {
				c.sleep(backoffDelay(attempt))
				continue
			}
			return nil, &RemoteError{Chain: c.cfg.Name, Action: action, Message: text}
		}
		return env.Result, nil
	}
}

func (c *Client) issueProxy(ctx context.Context, params url.Values) (proxyEnvelope, error) {
	merged := url.Values{}
	for key, values := range params {
		merged[key] = values
	}
	merged.Set("chainid", strconv.FormatInt(c.cfg.ChainID, 10))
	merged.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+merged.Encode(), nil)
	if err != nil {
		return proxyEnvelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return proxyEnvelope{}, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return proxyEnvelope{}, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return proxyEnvelope{}, &RemoteError{
			Chain:   c.cfg.Name,
			Action:  params.Get("action"),
			Message: fmt.Sprintf("http status %d", resp.StatusCode),
		}
	}

	var env proxyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return proxyEnvelope{}, fmt.Errorf("decode proxy response: %w", err)
	}
	return env, nil
}

// AccountBalance fetches the native balance for an address in decimal units.
func (c *Client) AccountBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "balance")
	params.Set("address", address)
	params.Set("tag", "latest")

	cacheKey := strings.Join([]string{c.cfg.Name, "balance", strings.ToLower(address)}, "|")
	raw, err := c.Request(ctx, params, cacheKey)
	if err != nil {
		return decimal.Zero, err
	}

	var baseUnits string
	if err := json.Unmarshal(raw, &baseUnits); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance for %s: %w", address, err)
	}
	return ledger.BaseUnitsToDecimal(baseUnits, c.cfg.Decimals), nil
}
