package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainledger/ledger"
	"chainledger/logging"
)

const queried = "0x1111111111111111111111111111111111111111"
const other = "0x2222222222222222222222222222222222222222"

func newTestFetcher(c *Client, pageSize, maxRecords int) *Fetcher {
	return &Fetcher{
		client:     c,
		pageSize:   pageSize,
		pace:       0,
		maxRecords: maxRecords,
		sleep:      func(time.Duration) {},
		logger:     logging.NewDiscardLogger(),
	}
}

func TestFetchNativePaginatesUntilShortPage(t *testing.T) {
	pages := map[string]string{
		"1": `[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xa1","from":"` + other + `","to":"` + queried + `","value":"1000000000000000000","gasPrice":"20000000000","gasUsed":"21000","isError":"0","txreceipt_status":"1"},
			{"blockNumber":"99","timeStamp":"1699990000","hash":"0xa2","from":"` + queried + `","to":"` + other + `","value":"500000000000000000","gasPrice":"20000000000","gasUsed":"21000","isError":"0","txreceipt_status":"1"}
		]`,
		"2": `[
			{"blockNumber":"98","timeStamp":"1699980000","hash":"0xa3","from":"` + queried + `","to":"` + other + `","value":"0","gasPrice":"20000000000","gasUsed":"50000","isError":"1","txreceipt_status":"0"}
		]`,
	}
	var requestedPages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requestedPages = append(requestedPages, page)
		w.Write([]byte(envelope("1", "OK", pages[page])))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 2, 100)
	out, err := f.FetchNative(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, []string{"1", "2"}, requestedPages, "short page ends pagination")

	first := out[0]
	assert.Equal(t, "0xa1", first.Hash)
	assert.Equal(t, uint64(100), first.BlockNumber)
	assert.Equal(t, int64(1700000000000), first.Timestamp)
	assert.Equal(t, ledger.DirectionIncoming, first.Direction)
	assert.Equal(t, "1", first.Amount.String())
	assert.Equal(t, "ETH", first.Currency)
	assert.Equal(t, ledger.StatusSuccess, first.Status)
	assert.Equal(t, ledger.KindNative, first.Kind)

	second := out[1]
	assert.Equal(t, ledger.DirectionOutgoing, second.Direction)
	assert.Equal(t, "0.00042", second.GasFee.String())

	failed := out[2]
	assert.Equal(t, ledger.StatusFailed, failed.Status)
}

func TestFetchNativeStopsAtSafetyCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelope("1", "OK", `[
			{"blockNumber":"1","timeStamp":"1700000000","hash":"0x1","from":"`+other+`","to":"`+queried+`","value":"1","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"},
			{"blockNumber":"2","timeStamp":"1700000000","hash":"0x2","from":"`+other+`","to":"`+queried+`","value":"1","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 2, 6)
	out, err := f.FetchNative(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)
	assert.Len(t, out, 6)
}

func TestFetchKeepsEarlierPagesWhenLaterPageStaysThrottled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			w.Write([]byte(envelope("0", "NOTOK", `"Max rate limit reached"`)))
			return
		}
		w.Write([]byte(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xa1","from":"`+other+`","to":"`+queried+`","value":"1","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"},
			{"blockNumber":"99","timeStamp":"1699990000","hash":"0xa2","from":"`+other+`","to":"`+queried+`","value":"1","gasPrice":"0","gasUsed":"0","isError":"0","txreceipt_status":"1"}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 2, 100)
	out, err := f.FetchNative(context.Background(), queried, BlockWindow{})
	require.NoError(t, err, "a throttled-out page degrades to empty, it does not fail the source")
	assert.Len(t, out, 2, "page one survives")
}

func TestFetchPassesBlockWindow(t *testing.T) {
	var start, end string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start = r.URL.Query().Get("startblock")
		end = r.URL.Query().Get("endblock")
		w.Write([]byte(envelope("0", "No transactions found", `[]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 10, 100)
	_, err := f.FetchNative(context.Background(), queried, BlockWindow{Start: 1000, End: 2000})
	require.NoError(t, err)
	assert.Equal(t, "1000", start)
	assert.Equal(t, "2000", end)
}

func TestFetchInternalMarksRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txlistinternal", r.URL.Query().Get("action"))
		w.Write([]byte(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xa1","from":"`+other+`","to":"`+queried+`","value":"250000000000000000","isError":"0"}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 10, 100)
	out, err := f.FetchInternal(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.True(t, out[0].IsInternal)
	assert.Equal(t, ledger.KindInternal, out[0].Kind)
	assert.True(t, out[0].GasFee.IsZero(), "internal transfers carry no fee of their own")
	assert.Equal(t, "0.25", out[0].Amount.String())
}

func TestFetchTokenTransfersResolvesSymbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelope("1", "OK", `[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0xa1","from":"`+queried+`","to":"`+other+`","value":"2500000","gasPrice":"0","gasUsed":"0","contractAddress":"0xdac17f958d2ee523a2206206994597c13d831ec7","tokenSymbol":"USDT","tokenDecimal":"6"},
			{"blockNumber":"99","timeStamp":"1699990000","hash":"0xa2","from":"`+other+`","to":"`+queried+`","value":"1000000000000000000","gasPrice":"0","gasUsed":"0","contractAddress":"0xdeadbeef00112233445566778899aabbccddeeff","tokenSymbol":"","tokenDecimal":""}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 10, 100)
	out, err := f.FetchTokenTransfers(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "USDT", out[0].Currency)
	assert.Equal(t, "2.5", out[0].Amount.String())
	assert.Equal(t, ledger.KindToken, out[0].Kind)

	// Unknown token with no reported identity gets a synthetic symbol.
	assert.Equal(t, "DEADBEEF", out[1].Currency)
	assert.Equal(t, "1", out[1].Amount.String())
}

func TestFetchMiningRewards(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "getminedblocks", r.URL.Query().Get("action"))
		assert.Equal(t, "blocks", r.URL.Query().Get("blocktype"))
		w.Write([]byte(envelope("1", "OK", `[
			{"blockNumber":"12345","timeStamp":"1600000000","blockReward":"2000000000000000000"}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 10, 100)
	out, err := f.FetchMiningRewards(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "mined-12345", out[0].Hash)
	assert.Equal(t, ledger.DirectionIncoming, out[0].Direction)
	assert.Equal(t, "2", out[0].Amount.String())
	assert.Equal(t, ledger.KindMiningReward, out[0].Kind)
}

func TestFetchValidatorWithdrawals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txsBeaconWithdrawal", r.URL.Query().Get("action"))
		w.Write([]byte(envelope("1", "OK", `[
			{"withdrawalIndex":"777","validatorIndex":"123","address":"`+queried+`","amount":"32000000000","blockNumber":"18000000","timestamp":"1690000000"}
		]`)))
	}))
	defer server.Close()

	f := newTestFetcher(newTestClient(t, server.URL), 10, 100)
	out, err := f.FetchValidatorWithdrawals(context.Background(), queried, BlockWindow{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "withdrawal-777", out[0].Hash)
	assert.Equal(t, "32", out[0].Amount.String(), "withdrawal amounts arrive in gwei")
	assert.Equal(t, ledger.KindValidatorWithdrawal, out[0].Kind)
}
