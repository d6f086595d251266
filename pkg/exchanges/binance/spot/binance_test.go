package spot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bot-trading-core/pkg/exchanges/common"
)

const exchangeInfoBody = `{"timezone":"UTC","serverTime":1700000000000,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[
{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},
{"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true,"maxNotional":"9000000","applyMaxToMarket":false,"avgPriceMins":5}]}]}`

const orderBody = `{"symbol":"BTCUSDT","orderId":123456,"clientOrderId":"abc","transactTime":1700000000000,
"price":"0","origQty":"0.001","executedQty":"0.001","cummulativeQuoteQty":"50.0","status":"FILLED","type":"MARKET","side":"BUY",
"fills":[{"price":"50000.00","qty":"0.001","commission":"0.000001","commissionAsset":"BTC","tradeId":1}]}`

func newTestServer(t *testing.T, infoCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(infoCalls, 1)
		_, _ = w.Write([]byte(exchangeInfoBody))
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("quantity") == "0.5" || r.FormValue("quantity") == "0.5" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`))
			return
		}
		_, _ = w.Write([]byte(orderBody))
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"ETH","free":"0","locked":"0"},{"asset":"USDT","free":"1000","locked":"10"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSymbolFiltersAreCached(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	c := New(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL})

	f, err := c.SymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, f.StepSize.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, f.MinNotional.Equal(decimal.NewFromInt(5)))
	assert.True(t, f.MaxQty.Equal(decimal.NewFromInt(9000)))

	_, err = c.SymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceMarketOrder(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	c := New(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL, RateLimit: 10})

	res, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", common.SideBuy, decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	assert.Equal(t, "123456", res.ExchangeOrderID)
	assert.Equal(t, "FILLED", res.Status)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.AveragePrice().Equal(decimal.NewFromInt(50000)))
	assert.True(t, res.FilledQty().Equal(decimal.RequireFromString("0.001")))
}

func TestPlaceMarketOrderRejected(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	c := New(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL})

	_, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", common.SideSell, decimal.RequireFromString("0.5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOT_SIZE")

	_, err = c.PlaceMarketOrder(context.Background(), "BTCUSDT", common.SideSell, decimal.Zero)
	assert.Error(t, err)
}

func TestBalances(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls)
	c := New(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL})

	bals, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.Len(t, bals, 2)
	assert.True(t, bals["USDT"].Equal(decimal.NewFromInt(1000)))
}
