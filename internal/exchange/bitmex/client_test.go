package bitmex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Config{
		Key:     "test-key",
		Secret:  "test-secret",
		BaseURL: srv.URL,
	}, testLogger())
	return client, srv
}

func TestGetContracts(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instrument/active", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("api-key"))
		assert.NotEmpty(t, r.Header.Get("api-expires"))
		assert.NotEmpty(t, r.Header.Get("api-signature"))
		w.Write([]byte(`[
			{"symbol":"XBTUSD","tickSize":0.5,"lotSize":100,"multiplier":-100000000,"isInverse":true,"isQuanto":false},
			{"symbol":"ETHUSD","tickSize":0.05,"lotSize":1,"multiplier":100,"isInverse":false,"isQuanto":true}
		]`))
	}))

	contracts, err := client.GetContracts(context.Background())
	require.NoError(t, err)
	require.Len(t, contracts, 2)

	xbt := contracts["XBTUSD"]
	assert.Equal(t, domain.ContractInverse, xbt.Kind)
	assert.Equal(t, "bitmex", xbt.Exchange)
	assert.InDelta(t, 1.0, xbt.Multiplier, 1e-12)
	assert.Equal(t, 1, xbt.PriceDecimals)

	eth := contracts["ETHUSD"]
	assert.Equal(t, domain.ContractQuanto, eth.Kind)
	assert.InDelta(t, 1e-6, eth.Multiplier, 1e-18)
	assert.Equal(t, 2, eth.PriceDecimals)
}

func TestGetBalancesConvertsSatoshis(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("currency"))
		w.Write([]byte(`[{"currency":"XBt","walletBalance":150000000,"marginBalance":149000000}]`))
	}))

	balances, err := client.GetBalances(context.Background())
	require.NoError(t, err)

	xbt, ok := balances["XBT"]
	require.True(t, ok)
	assert.InDelta(t, 1.5, xbt.WalletBalance, 1e-9)
	assert.InDelta(t, 1.49, xbt.MarginBalance, 1e-9)
}

func TestGetHistoricalCandlesOldestFirst(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "XBTUSD", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("binSize"))
		assert.Equal(t, "true", q.Get("partial"))
		assert.Equal(t, "true", q.Get("reverse"))
		// Newest first, as the venue returns them.
		w.Write([]byte(`[
			{"timestamp":"2026-01-01T00:02:00Z","open":101,"high":103,"low":100,"close":102,"volume":20},
			{"timestamp":"2026-01-01T00:01:00Z","open":100,"high":102,"low":99,"close":101,"volume":10}
		]`))
	}))

	candles, err := client.GetHistoricalCandles(context.Background(), domain.Contract{Symbol: "XBTUSD"}, domain.Timeframe1m)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Less(t, candles[0].OpenTime, candles[1].OpenTime)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 102.0, candles[1].Close)
	assert.Equal(t, domain.CandleHistorical, candles[0].Source)
}

func TestPlaceOrderRoundsQuantityAndPrice(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		got = r.URL.Query()
		w.Write([]byte(`{"orderID":"abc-123","symbol":"XBTUSD","ordStatus":"New"}`))
	}))

	contract := domain.Contract{Symbol: "XBTUSD", TickSize: 0.5, LotSize: 100, PriceDecimals: 1}
	price := 50000.37
	status, err := client.PlaceOrder(context.Background(), contract, exchange.OrderRequest{
		Type:     domain.OrderTypeLimit,
		Side:     domain.OrderSideBuy,
		Quantity: 1234,
		Price:    &price,
	})
	require.NoError(t, err)

	assert.Equal(t, "Buy", got.Get("side"))
	assert.Equal(t, "Limit", got.Get("ordType"))
	assert.Equal(t, "1200", got.Get("orderQty"))
	assert.Equal(t, "50000.5", got.Get("price"))
	assert.Equal(t, "abc-123", status.OrderID)
	assert.Equal(t, domain.OrderStateNew, status.State)
}

func TestRESTFailureWrapsErrNoResult(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))

	_, err := client.PlaceOrder(context.Background(), domain.Contract{Symbol: "XBTUSD", LotSize: 1}, exchange.OrderRequest{
		Type:     domain.OrderTypeMarket,
		Side:     domain.OrderSideSell,
		Quantity: 100,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoResult)
}

func TestCancelOrderAlreadyFilled(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`[{"orderID":"abc-123","symbol":"XBTUSD","ordStatus":"Filled","error":"Unable to cancel order"}]`))
	}))

	status, err := client.CancelOrder(context.Background(), domain.Contract{Symbol: "XBTUSD"}, "abc-123")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCannotCancel)
	assert.Equal(t, domain.OrderStateFilled, status.State)
}

func TestGetOrderStatusScansSymbolOrders(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("symbol"))
		w.Write([]byte(`[
			{"orderID":"newer","symbol":"XBTUSD","ordStatus":"New"},
			{"orderID":"abc-123","symbol":"XBTUSD","ordStatus":"Filled","avgPx":50001.5}
		]`))
	}))

	contract := domain.Contract{Symbol: "XBTUSD"}
	status, err := client.GetOrderStatus(context.Background(), contract, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStateFilled, status.State)
	assert.Equal(t, 50001.5, status.AvgPrice)

	_, err = client.GetOrderStatus(context.Background(), contract, "missing")
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestGetTradeSizeInverse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"currency":"XBt","walletBalance":200000000,"marginBalance":200000000}]`))
	}))

	// 2 XBT wallet, 10% -> 0.2 XBT. Inverse with multiplier 1 at price
	// 50000: 0.2 / (1/50000) = 10000 contracts.
	contract := domain.Contract{Symbol: "XBTUSD", Kind: domain.ContractInverse, Multiplier: 1}
	size, err := client.GetTradeSize(context.Background(), contract, 50000, 10)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, size)
}

func TestGetTradeSizeQuantoFloors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"currency":"XBt","walletBalance":100000000,"marginBalance":100000000}]`))
	}))

	// 1 XBT wallet, 50% -> 0.5 XBT. Quanto multiplier 1e-6 at price 3000:
	// 0.5 / (1e-6 * 3000) = 166.66 -> floored to 166.
	contract := domain.Contract{Symbol: "ETHUSD", Kind: domain.ContractQuanto, Multiplier: 1e-6}
	size, err := client.GetTradeSize(context.Background(), contract, 3000, 50)
	require.NoError(t, err)
	assert.Equal(t, 166.0, size)
}

func TestGetTradeSizeMissingBalance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	_, err := client.GetTradeSize(context.Background(), domain.Contract{Symbol: "XBTUSD", Kind: domain.ContractInverse, Multiplier: 1}, 50000, 10)
	assert.ErrorIs(t, err, domain.ErrNoBalance)
}
