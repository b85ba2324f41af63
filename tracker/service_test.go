package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainledger/explorer"
	"chainledger/ledger"
	"chainledger/logging"
	"chainledger/solana"
)

const (
	queried = "0x1111111111111111111111111111111111111111"
	other   = "0x2222222222222222222222222222222222222222"
)

func newTestService(t *testing.T, explorerURL, solanaURL string) *Service {
	t.Helper()
	logger := logging.NewDiscardLogger()

	evm := make(map[string]*evmSource, len(explorer.Chains))
	for name, chain := range explorer.Chains {
		client := explorer.NewClient(chain, "TESTKEY0123456789", logger)
		client.SetBaseURL(explorerURL)
		evm[name] = &evmSource{client: client, fetcher: explorer.NewFetcher(client, logger)}
	}

	solClient := solana.NewClient(solanaURL, logger)
	return &Service{
		logger:    logger,
		now:       time.Now,
		evm:       evm,
		sol:       solana.NewFetcher(solClient, logger),
		solClient: solClient,
	}
}

func envelope(status, message, result string) string {
	return `{"status":"` + status + `","message":"` + message + `","result":` + result + `}`
}

func noneFound() string {
	return envelope("0", "No transactions found", `[]`)
}

// explorerStub answers each account action with a scripted payload and every
// unscripted one with a valid empty result.
func explorerStub(t *testing.T, responses map[string]func() string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		if respond, ok := responses[action]; ok {
			w.Write([]byte(respond()))
			return
		}
		w.Write([]byte(noneFound()))
	}))
}

func fixed(body string) func() string {
	return func() string { return body }
}

// The central scenario: a token transfer whose source record lacks gas data
// gets its fee from the native record sharing the hash, the internal record
// with the same hash survives, and the three streams unify into one ledger.
func TestGetHistoryReconcilesAndUnifies(t *testing.T) {
	server := explorerStub(t, map[string]func() string{
		"txlist": fixed(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000100","hash":"0xh1","from":"`+queried+`","to":"0xcontract","value":"0","gasPrice":"20000000000","gasUsed":"60000","isError":"0","txreceipt_status":"1"}
		]`)),
		"tokentx": fixed(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000100","hash":"0xh1","from":"`+queried+`","to":"`+other+`","value":"2500000","gasPrice":"0","gasUsed":"0","contractAddress":"0xdac17f958d2ee523a2206206994597c13d831ec7","tokenSymbol":"USDT","tokenDecimal":"6"}
		]`)),
		"txlistinternal": fixed(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000100","hash":"0xh1","from":"0xcontract","to":"`+queried+`","value":"100000000000000000","isError":"0"}
		]`)),
	})
	defer server.Close()

	s := newTestService(t, server.URL, "")
	out, err := s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, out, 3)

	byKind := make(map[ledger.RecordKind]ledger.Transaction)
	for _, tx := range out {
		byKind[tx.Kind] = tx
	}

	token, ok := byKind[ledger.KindToken]
	require.True(t, ok)
	assert.Equal(t, "2.5", token.Amount.String())
	// 60000 gas at 20 gwei, copied from the native sibling without a lookup.
	assert.Equal(t, "0.0012", token.GasFee.String())
	assert.Equal(t, uint64(60000), token.GasUsed)
	assert.False(t, token.GasFeeEstimated)

	internal, ok := byKind[ledger.KindInternal]
	require.True(t, ok, "the internal record must survive sharing a hash with the native one")
	assert.True(t, internal.IsInternal)
	assert.Equal(t, "0.1", internal.Amount.String())

	native, ok := byKind[ledger.KindNative]
	require.True(t, ok)
	assert.Equal(t, "0.0012", native.GasFee.String())
}

func TestGetHistoryRecoversFromThrottling(t *testing.T) {
	var tokenCalls int64
	server := explorerStub(t, map[string]func() string{
		"txlist": fixed(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000100","hash":"0xh1","from":"`+other+`","to":"`+queried+`","value":"1000000000000000000","gasPrice":"20000000000","gasUsed":"21000","isError":"0","txreceipt_status":"1"}
		]`)),
		"tokentx": func() string {
			if atomic.AddInt64(&tokenCalls, 1) == 1 {
				return envelope("0", "NOTOK", `"Max rate limit reached"`)
			}
			return envelope("1", "OK", `[
				{"blockNumber":"99","timeStamp":"1700000000","hash":"0xh2","from":"`+other+`","to":"`+queried+`","value":"2500000","gasPrice":"0","gasUsed":"0","contractAddress":"0xdac17f958d2ee523a2206206994597c13d831ec7","tokenSymbol":"USDT","tokenDecimal":"6"}
			]`)
		},
	})
	defer server.Close()

	s := newTestService(t, server.URL, "")
	out, err := s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{})
	require.NoError(t, err)

	require.Len(t, out, 2, "the throttled source recovers on retry")
	assert.GreaterOrEqual(t, atomic.LoadInt64(&tokenCalls), int64(2))
}

func TestGetHistoryFiltersThenTruncates(t *testing.T) {
	server := explorerStub(t, map[string]func() string{
		"txlist": fixed(envelope("1", "OK", `[
			{"blockNumber":"103","timeStamp":"1700000300","hash":"0xh3","from":"`+other+`","to":"`+queried+`","value":"3000000000000000000","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"},
			{"blockNumber":"102","timeStamp":"1700000200","hash":"0xh2","from":"`+other+`","to":"`+queried+`","value":"2000000000000000000","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"},
			{"blockNumber":"101","timeStamp":"1700000100","hash":"0xh1","from":"`+other+`","to":"`+queried+`","value":"1000000000000000000","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"}
		]`)),
		"tokentx": fixed(envelope("1", "OK", `[
			{"blockNumber":"102","timeStamp":"1700000200","hash":"0xt1","from":"`+queried+`","to":"`+other+`","value":"5000000","gasPrice":"20000000000","gasUsed":"50000","contractAddress":"0xdac17f958d2ee523a2206206994597c13d831ec7","tokenSymbol":"USDT","tokenDecimal":"6"}
		]`)),
	})
	defer server.Close()

	s := newTestService(t, server.URL, "")

	// Currency filter happens before truncation.
	out, err := s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{Currency: "usdt"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0xt1", out[0].Hash)

	// Limit applies to the unified, filtered ledger, newest first.
	out, err = s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "0xh3", out[0].Hash)
	assert.Equal(t, int64(1700000200000), out[1].Timestamp)

	// Date range is inclusive of records at its edges.
	start := time.UnixMilli(1700000100000)
	end := time.UnixMilli(1700000200000)
	out, err = s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{Start: start, End: end})
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestGetHistoryToleratesPartialSourceFailure(t *testing.T) {
	server := explorerStub(t, map[string]func() string{
		"txlist": fixed(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000100","hash":"0xh1","from":"`+other+`","to":"`+queried+`","value":"1000000000000000000","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"}
		]`)),
		"txlistinternal": fixed(envelope("0", "NOTOK", `"Error! Unexpected failure"`)),
	})
	defer server.Close()

	s := newTestService(t, server.URL, "")
	out, err := s.GetHistory(context.Background(), "ethereum", queried, HistoryOptions{})
	require.NoError(t, err, "one failed source must not sink the request")
	assert.Len(t, out, 1)
}

func TestGetHistoryRejectsBadInput(t *testing.T) {
	s := newTestService(t, "http://invalid.test", "")

	_, err := s.GetHistory(context.Background(), "dogecoin", queried, HistoryOptions{})
	assert.Error(t, err)

	_, err = s.GetHistory(context.Background(), "ethereum", "not-an-address", HistoryOptions{})
	assert.Error(t, err)

	_, err = s.GetHistory(context.Background(), "solana", "not-an-address", HistoryOptions{})
	assert.Error(t, err)
}

func TestGetBalanceLive(t *testing.T) {
	server := explorerStub(t, map[string]func() string{
		"balance": fixed(envelope("1", "OK", `"1500000000000000000"`)),
	})
	defer server.Close()

	s := newTestService(t, server.URL, "")
	snapshot, err := s.GetBalance(context.Background(), "ethereum", queried)
	require.NoError(t, err)

	assert.True(t, snapshot.IsLive)
	assert.Equal(t, "1.5", snapshot.Amount.String())
	assert.Equal(t, "ETH", snapshot.Unit)
	assert.Empty(t, snapshot.Err)
}

func TestGetBalanceDegradesOnRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	s := newTestService(t, server.URL, "")
	snapshot, err := s.GetBalance(context.Background(), "ethereum", queried)
	require.NoError(t, err, "a remote failure degrades the snapshot, it is not an error")

	assert.False(t, snapshot.IsLive)
	assert.NotEmpty(t, snapshot.Err)
	assert.True(t, snapshot.Amount.IsZero())
}

func TestGetBalanceRejectsBadInput(t *testing.T) {
	s := newTestService(t, "http://invalid.test", "")

	_, err := s.GetBalance(context.Background(), "dogecoin", queried)
	assert.Error(t, err)

	_, err = s.GetBalance(context.Background(), "ethereum", "xyz")
	assert.Error(t, err)
}

func TestGetHistorySolana(t *testing.T) {
	address := base58.Encode(bytes.Repeat([]byte{3}, 32))
	payer := base58.Encode(bytes.Repeat([]byte{4}, 32))
	sig := base58.Encode(bytes.Repeat([]byte{7}, 64))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, readJSON(r, &req))
		switch req.Method {
		case "getSignaturesForAddress":
			w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":[{"signature":"` + sig + `","slot":900,"blockTime":1700000000}]}`))
		case "getTransaction":
			w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{
				"slot": 900,
				"blockTime": 1700000000,
				"meta": {"fee":5000,"err":null,"preBalances":[3000005000,0],"postBalances":[1000000000,2000000000],"preTokenBalances":[],"postTokenBalances":[]},
				"transaction": {"message": {"accountKeys": [{"pubkey":"` + payer + `"},{"pubkey":"` + address + `"}]}}
			}}`))
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
	}))
	defer server.Close()

	s := newTestService(t, "http://invalid.test", server.URL)
	out, err := s.GetHistory(context.Background(), "solana", address, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, sig, out[0].Hash)
	assert.Equal(t, "2", out[0].Amount.String())
	assert.Equal(t, "SOL", out[0].Currency)
	assert.Equal(t, ledger.DirectionIncoming, out[0].Direction)
}

func TestBlockWindowPrefilter(t *testing.T) {
	s := newTestService(t, "http://invalid.test", "")
	now := time.Now()
	s.now = func() time.Time { return now }
	cfg := explorer.Chains["ethereum"]

	// No start date: unbounded.
	window := s.blockWindow(cfg, HistoryOptions{})
	assert.Zero(t, window.Start)

	// Distant start date: the estimate drifts too much, stay unbounded.
	window = s.blockWindow(cfg, HistoryOptions{Start: now.Add(-90 * 24 * time.Hour)})
	assert.Zero(t, window.Start)

	// Recent start date: bounded below, widened by the safety margin.
	start := now.Add(-7 * 24 * time.Hour)
	window = s.blockWindow(cfg, HistoryOptions{Start: start})
	assert.Greater(t, window.Start, uint64(0))
	assert.Less(t, window.Start, cfg.ApproxBlockAt(start))
	assert.Zero(t, window.End)
}

func TestChains(t *testing.T) {
	s := newTestService(t, "http://invalid.test", "")
	assert.Equal(t, []string{"bsc", "ethereum", "solana"}, s.Chains())
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
