package binance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		Key:     "test-key",
		Secret:  "test-secret",
		BaseURL: srv.URL,
	}, testLogger())
}

func TestGetContracts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		// Public endpoint, no key header.
		assert.Empty(t, r.Header.Get(apiKeyHeader))
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","pricePrecision":2,"filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","stepSize":"0.001"}
			]},
			{"symbol":"DELISTED","status":"BREAK","pricePrecision":2,"filters":[]}
		]}`))
	}))

	contracts, err := client.GetContracts(context.Background())
	require.NoError(t, err)
	require.Len(t, contracts, 1)

	btc := contracts["BTCUSDT"]
	assert.Equal(t, "binance", btc.Exchange)
	assert.Equal(t, domain.ContractLinear, btc.Kind)
	assert.Equal(t, 1.0, btc.Multiplier)
	assert.Equal(t, 0.1, btc.TickSize)
	assert.Equal(t, 0.001, btc.LotSize)
	assert.Equal(t, 2, btc.PriceDecimals)
}

func TestGetBalancesSignedRequest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/balance", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(apiKeyHeader))
		// The signature must be the last query parameter.
		assert.True(t, strings.Contains(r.URL.RawQuery, "&signature="))
		idx := strings.Index(r.URL.RawQuery, "&signature=")
		assert.NotContains(t, r.URL.RawQuery[idx+1:], "&")
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		w.Write([]byte(`[{"asset":"USDT","balance":"1500.25","availableBalance":"1400.00"}]`))
	}))

	balances, err := client.GetBalances(context.Background())
	require.NoError(t, err)

	usdt, ok := balances["USDT"]
	require.True(t, ok)
	assert.Equal(t, 1500.25, usdt.WalletBalance)
	assert.Equal(t, 1400.0, usdt.MarginBalance)
}

func TestGetHistoricalCandlesParsesKlineRows(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		w.Write([]byte(`[
			[1767225600000,"50000.1","50010.5","49990.0","50005.2","12.345",1767225659999,"617000.00",100,"6.1","305000.00","0"],
			[1767225660000,"50005.2","50020.0","50000.0","50015.0","8.100",1767225719999,"405000.00",80,"4.0","200000.00","0"]
		]`))
	}))

	candles, err := client.GetHistoricalCandles(context.Background(), domain.Contract{Symbol: "BTCUSDT"}, domain.Timeframe1m)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, int64(1767225600000), first.OpenTime)
	assert.Equal(t, 50000.1, first.Open)
	assert.Equal(t, 50010.5, first.High)
	assert.Equal(t, 49990.0, first.Low)
	assert.Equal(t, 50005.2, first.Close)
	assert.Equal(t, 12.345, first.Volume)
	assert.Equal(t, domain.CandleHistorical, first.Source)
	assert.Equal(t, int64(1767225660000), candles[1].OpenTime)
}

func TestPlaceLimitOrderDefaultsGTC(t *testing.T) {
	var got url.Values
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		got = r.URL.Query()
		w.Write([]byte(`{"orderId":123456,"symbol":"BTCUSDT","status":"NEW","avgPrice":"0"}`))
	}))

	contract := domain.Contract{Symbol: "BTCUSDT", TickSize: 0.1, LotSize: 0.001, PriceDecimals: 2}
	price := 50000.07
	status, err := client.PlaceOrder(context.Background(), contract, exchange.OrderRequest{
		Type:     domain.OrderTypeLimit,
		Side:     domain.OrderSideBuy,
		Quantity: 0.0526,
		Price:    &price,
	})
	require.NoError(t, err)

	assert.Equal(t, "BUY", got.Get("side"))
	assert.Equal(t, "LIMIT", got.Get("type"))
	assert.Equal(t, "GTC", got.Get("timeInForce"))
	assert.Equal(t, "50000.1", got.Get("price"))
	qty, qtyErr := strconv.ParseFloat(got.Get("quantity"), 64)
	require.NoError(t, qtyErr)
	assert.InDelta(t, 0.053, qty, 1e-9)
	assert.Equal(t, "123456", status.OrderID)
	assert.Equal(t, domain.OrderStateNew, status.State)
}

func TestPlaceMarketOrderOmitsPrice(t *testing.T) {
	var got url.Values
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"orderId":7,"symbol":"BTCUSDT","status":"FILLED","avgPrice":"50002.30"}`))
	}))

	status, err := client.PlaceOrder(context.Background(), domain.Contract{Symbol: "BTCUSDT", LotSize: 0.001}, exchange.OrderRequest{
		Type:     domain.OrderTypeMarket,
		Side:     domain.OrderSideSell,
		Quantity: 0.05,
	})
	require.NoError(t, err)

	assert.Equal(t, "MARKET", got.Get("type"))
	assert.Empty(t, got.Get("price"))
	assert.Empty(t, got.Get("timeInForce"))
	assert.Equal(t, domain.OrderStateFilled, status.State)
	assert.Equal(t, 50002.3, status.AvgPrice)
}

func TestCancelUnknownOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))

	_, err := client.CancelOrder(context.Background(), domain.Contract{Symbol: "BTCUSDT"}, "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	}))

	_, err := client.GetOrderStatus(context.Background(), domain.Contract{Symbol: "BTCUSDT"}, "999")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRESTFailureWrapsErrNoResult(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1000,"msg":"internal error"}`, http.StatusInternalServerError)
	}))

	_, err := client.PlaceOrder(context.Background(), domain.Contract{Symbol: "BTCUSDT", LotSize: 0.001}, exchange.OrderRequest{
		Type:     domain.OrderTypeMarket,
		Side:     domain.OrderSideBuy,
		Quantity: 0.05,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoResult)
}

func TestGetTradeSizeLinearFloorsToStep(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"asset":"USDT","balance":"10000","availableBalance":"10000"}]`))
	}))

	// 10000 USDT, 10% -> 1000 USDT. At price 50000 with unit multiplier:
	// 0.02 BTC, floored to the 0.001 step.
	contract := domain.Contract{Symbol: "BTCUSDT", Kind: domain.ContractLinear, Multiplier: 1, LotSize: 0.001}
	size, err := client.GetTradeSize(context.Background(), contract, 50000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, size, 1e-9)

	// 33% -> 3300 USDT -> 0.066 BTC exactly at the step boundary is kept;
	// an off-step remainder is dropped.
	size, err = client.GetTradeSize(context.Background(), contract, 51000, 33)
	require.NoError(t, err)
	assert.InDelta(t, 0.064, size, 1e-9)
}

func TestGetTradeSizeMissingBalance(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"asset":"BUSD","balance":"10","availableBalance":"10"}]`))
	}))

	_, err := client.GetTradeSize(context.Background(), domain.Contract{Symbol: "BTCUSDT", Kind: domain.ContractLinear, Multiplier: 1}, 50000, 10)
	assert.ErrorIs(t, err, domain.ErrNoBalance)
}
