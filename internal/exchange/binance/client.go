// Package binance implements the exchange connector for Binance USDT-margined
// futures: HMAC-signed REST calls plus the realtime stream feed.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/crypto"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

// Name is the venue identifier.
const Name = "binance"

const (
	mainnetBaseURL = "https://fapi.binance.com"
	mainnetWsURL   = "wss://fstream.binance.com/ws"
	testnetBaseURL = "https://testnet.binancefuture.com"
	testnetWsURL   = "wss://stream.binancefuture.com/ws"

	apiKeyHeader = "X-MBX-APIKEY"

	// candleHistoryLimit is the klines page size.
	candleHistoryLimit = 500

	// fundingCurrency is the wallet asset used for position sizing.
	fundingCurrency = "USDT"
)

// Config holds the venue connection parameters.
type Config struct {
	Key     string
	Secret  string
	Testnet bool
	// BaseURL / WsURL override the venue defaults when non-empty.
	BaseURL string
	WsURL   string
	// HistoryLimit overrides candleHistoryLimit when positive.
	HistoryLimit int
	// Symbols are the streams subscribed on connect, lowercased by the
	// connector.
	Symbols []string
}

// Client is the Binance futures connector. It owns the signed REST
// transport, the streaming connection, and the live price table.
type Client struct {
	baseURL      string
	wsURL        string
	auth         *crypto.HMACAuth
	httpClient   *http.Client
	historyLimit int
	symbols      []string
	logger       *slog.Logger

	// Live price table, written by the stream receive loop.
	priceMu sync.RWMutex
	prices  map[string]domain.Quote

	handlerMu     sync.RWMutex
	priceHandlers []exchange.PriceHandler
	tickHandlers  []exchange.TickHandler

	connMu    sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Binance futures connector. symbols selects the streamed
// markets; REST operations work for any symbol.
func New(cfg Config, logger *slog.Logger) *Client {
	baseURL, wsURL := mainnetBaseURL, mainnetWsURL
	if cfg.Testnet {
		baseURL, wsURL = testnetBaseURL, testnetWsURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.WsURL != "" {
		wsURL = cfg.WsURL
	}
	limit := candleHistoryLimit
	if cfg.HistoryLimit > 0 {
		limit = cfg.HistoryLimit
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, strings.ToLower(s))
	}
	return &Client{
		baseURL:      baseURL,
		wsURL:        wsURL,
		auth:         &crypto.HMACAuth{Key: cfg.Key, Secret: cfg.Secret},
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		historyLimit: limit,
		symbols:      symbols,
		logger:       logger.With(slog.String("component", "binance")),
		prices:       make(map[string]domain.Quote),
		done:         make(chan struct{}),
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return Name }

// GetContracts loads the tradable symbol set, keyed by symbol.
func (c *Client) GetContracts(ctx context.Context) (map[string]domain.Contract, error) {
	var info exchangeInfo
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}

	contracts := make(map[string]domain.Contract, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		contracts[s.Symbol] = s.toContract()
	}
	return contracts, nil
}

// GetBalances loads the futures wallet balances, keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]domain.Balance, error) {
	var assets []assetBalance
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true, &assets); err != nil {
		return nil, err
	}

	balances := make(map[string]domain.Balance, len(assets))
	for _, a := range assets {
		b := a.toBalance()
		balances[b.Currency] = b
	}
	return balances, nil
}

// GetHistoricalCandles fetches up to the history limit of klines for the
// contract. The venue already returns them oldest first.
func (c *Client) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("interval", string(tf))
	query.Set("limit", strconv.Itoa(c.historyLimit))

	var rows []kline
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", query, false, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, k := range rows {
		candles = append(candles, domain.Candle{
			Timeframe: tf,
			OpenTime:  k.OpenTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			Source:    domain.CandleHistorical,
		})
	}
	return candles, nil
}

// PlaceOrder submits an order, rounding quantity to the contract's step size
// and any limit price to its tick size. Limit orders default to GTC.
func (c *Client) PlaceOrder(ctx context.Context, contract domain.Contract, req exchange.OrderRequest) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("side", strings.ToUpper(string(req.Side)))
	query.Set("type", strings.ToUpper(string(req.Type)))
	query.Set("quantity", formatQty(contract.RoundQuantity(req.Quantity)))

	if req.Type == domain.OrderTypeLimit {
		if req.Price == nil {
			return domain.OrderStatus{}, fmt.Errorf("binance: limit order on %s without price", contract.Symbol)
		}
		query.Set("price", strconv.FormatFloat(contract.RoundPrice(*req.Price), 'f', -1, 64))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		query.Set("timeInForce", tif)
	}

	var payload orderPayload
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", query, true, &payload); err != nil {
		return domain.OrderStatus{}, err
	}
	return payload.toStatus(), nil
}

// CancelOrder cancels an order by id. A venue "unknown order" rejection maps
// to domain.ErrCannotCancel: the order already reached a terminal state.
func (c *Client) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("orderId", orderID)

	var payload orderPayload
	if err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", query, true, &payload); err != nil {
		return domain.OrderStatus{}, err
	}
	return payload.toStatus(), nil
}

// GetOrderStatus queries one order by id.
func (c *Client) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("orderId", orderID)

	var payload orderPayload
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/order", query, true, &payload); err != nil {
		return domain.OrderStatus{}, err
	}
	return payload.toStatus(), nil
}

// GetTradeSize converts a percentage of the USDT wallet balance into a
// contract quantity, floored to the contract's step size.
func (c *Client) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	funding, ok := balances[fundingCurrency]
	if !ok {
		return 0, fmt.Errorf("binance: no %s wallet balance: %w", fundingCurrency, domain.ErrNoBalance)
	}
	if price <= 0 || contract.Multiplier <= 0 {
		return 0, fmt.Errorf("binance: cannot size %s at price %v: %w", contract.Symbol, price, domain.ErrNoBalance)
	}

	usdtSize := funding.WalletBalance * balancePct / 100
	quantity := usdtSize / (contract.Multiplier * price)
	if contract.LotSize > 0 {
		quantity = math.Floor(quantity/contract.LotSize) * contract.LotSize
	} else {
		quantity = math.Floor(quantity)
	}

	c.logger.Info("trade size computed",
		slog.String("symbol", contract.Symbol),
		slog.Float64("usdt_balance", funding.WalletBalance),
		slog.Float64("quantity", quantity),
	)
	return quantity, nil
}

// BestPrices returns the live best bid/ask for a symbol.
func (c *Client) BestPrices(symbol string) (float64, float64, bool) {
	c.priceMu.RLock()
	defer c.priceMu.RUnlock()
	q, ok := c.prices[symbol]
	return q.Bid, q.Ask, ok
}

// Quotes snapshots the full live price table.
func (c *Client) Quotes() []domain.Quote {
	c.priceMu.RLock()
	defer c.priceMu.RUnlock()
	quotes := make([]domain.Quote, 0, len(c.prices))
	for _, q := range c.prices {
		quotes = append(quotes, q)
	}
	return quotes
}

// OnPriceUpdate registers a handler for best bid/ask changes.
func (c *Client) OnPriceUpdate(h exchange.PriceHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.priceHandlers = append(c.priceHandlers, h)
}

// OnTick registers a handler for trade ticks.
func (c *Client) OnTick(h exchange.TickHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tickHandlers = append(c.tickHandlers, h)
}

// ---------------------------------------------------------------------------
// Signed REST transport
// ---------------------------------------------------------------------------

// do builds, optionally signs, sends, and decodes a REST request. Signed
// requests carry the API-key header and a trailing signature parameter.
// Transport failures and venue rejections are surfaced as errors wrapping
// domain.ErrNoResult; the by-id order error codes map to their typed
// domain errors instead.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, signed bool, out any) error {
	fullURL := c.baseURL + path
	if signed {
		fullURL += "?" + c.auth.BinanceSign(query)
	} else if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("binance: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set(apiKeyHeader, c.auth.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("binance: %s %s: %w: %v", method, path, domain.ErrNoResult, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: %s %s: read body: %w", method, path, domain.ErrNoResult)
	}

	if resp.StatusCode != http.StatusOK {
		var venueErr apiError
		_ = json.Unmarshal(body, &venueErr)
		switch venueErr.Code {
		case codeUnknownOrder:
			return fmt.Errorf("binance: %s %s: %s: %w", method, path, venueErr.Message, domain.ErrCannotCancel)
		case codeOrderNotFound:
			return fmt.Errorf("binance: %s %s: %s: %w", method, path, venueErr.Message, domain.ErrOrderNotFound)
		}
		c.logger.Error("request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("binance: %s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrNoResult)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("binance: %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
