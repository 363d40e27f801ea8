// Package bitmex implements the exchange connector for BitMEX derivatives:
// HMAC-signed REST calls plus the realtime websocket feed.
package bitmex

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
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/crypto"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

// Name is the venue identifier.
const Name = "bitmex"

const (
	mainnetBaseURL = "https://www.bitmex.com"
	mainnetWsURL   = "wss://www.bitmex.com/realtime"
	testnetBaseURL = "https://testnet.bitmex.com"
	testnetWsURL   = "wss://testnet.bitmex.com/realtime"

	// candleHistoryLimit is the bucketed-trade page size.
	candleHistoryLimit = 500

	// fundingCurrency is the wallet currency used for position sizing.
	fundingCurrency = "XBT"
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
}

// Client is the BitMEX connector. It owns the signed REST transport, the
// streaming connection, and the live price table.
type Client struct {
	baseURL      string
	wsURL        string
	auth         *crypto.HMACAuth
	httpClient   *http.Client
	historyLimit int
	logger       *slog.Logger

	// Live price table, written by the websocket receive loop.
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

// New creates a BitMEX connector.
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
	return &Client{
		baseURL:      baseURL,
		wsURL:        wsURL,
		auth:         &crypto.HMACAuth{Key: cfg.Key, Secret: cfg.Secret},
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		historyLimit: limit,
		logger:       logger.With(slog.String("component", "bitmex")),
		prices:       make(map[string]domain.Quote),
		done:         make(chan struct{}),
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return Name }

// GetContracts loads the active instrument set, keyed by symbol.
func (c *Client) GetContracts(ctx context.Context) (map[string]domain.Contract, error) {
	var instruments []instrument
	if err := c.do(ctx, http.MethodGet, "/api/v1/instrument/active", nil, &instruments); err != nil {
		return nil, err
	}

	contracts := make(map[string]domain.Contract, len(instruments))
	for _, in := range instruments {
		contracts[in.Symbol] = in.toContract()
	}
	return contracts, nil
}

// GetBalances loads the margin balances for all currencies, keyed by
// currency code.
func (c *Client) GetBalances(ctx context.Context) (map[string]domain.Balance, error) {
	query := url.Values{}
	query.Set("currency", "all")

	var margins []margin
	if err := c.do(ctx, http.MethodGet, "/api/v1/user/margin", query, &margins); err != nil {
		return nil, err
	}

	balances := make(map[string]domain.Balance, len(margins))
	for _, m := range margins {
		b := m.toBalance()
		balances[b.Currency] = b
	}
	return balances, nil
}

// GetHistoricalCandles fetches up to the history limit of bucketed trades
// for the contract, returned oldest first.
func (c *Client) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("binSize", string(tf))
	query.Set("partial", "true")
	query.Set("count", strconv.Itoa(c.historyLimit))
	query.Set("reverse", "true")

	var raw []bucketedTrade
	if err := c.do(ctx, http.MethodGet, "/api/v1/trade/bucketed", query, &raw); err != nil {
		return nil, err
	}

	// The venue returns newest first.
	candles := make([]domain.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		b := raw[i]
		candles = append(candles, domain.Candle{
			Timeframe: tf,
			OpenTime:  b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Source:    domain.CandleHistorical,
		})
	}
	return candles, nil
}

// PlaceOrder submits an order, rounding quantity to the contract's lot size
// and any limit price to its tick size. The returned status reflects the
// venue's immediate response, which may not yet show a fill.
func (c *Client) PlaceOrder(ctx context.Context, contract domain.Contract, req exchange.OrderRequest) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("side", capitalizeSide(req.Side))
	query.Set("orderQty", formatQty(contract.RoundQuantity(req.Quantity)))
	query.Set("ordType", capitalizeType(req.Type))

	if req.Price != nil {
		price := contract.RoundPrice(*req.Price)
		query.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}
	if req.TimeInForce != "" {
		query.Set("timeInForce", req.TimeInForce)
	}

	var payload orderPayload
	if err := c.do(ctx, http.MethodPost, "/api/v1/order", query, &payload); err != nil {
		return domain.OrderStatus{}, err
	}
	return payload.toStatus(), nil
}

// CancelOrder cancels an order by id. Cancelling an order already in a
// terminal state returns domain.ErrCannotCancel.
func (c *Client) CancelOrder(ctx context.Context, _ domain.Contract, orderID string) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("orderID", orderID)

	var payloads []orderPayload
	if err := c.do(ctx, http.MethodDelete, "/api/v1/order", query, &payloads); err != nil {
		return domain.OrderStatus{}, err
	}
	if len(payloads) == 0 {
		return domain.OrderStatus{}, fmt.Errorf("bitmex: cancel %s: empty response: %w", orderID, domain.ErrNoResult)
	}

	p := payloads[0]
	status := p.toStatus()
	if p.Error != "" || (status.State.Terminal() && status.State != domain.OrderStateCanceled) {
		return status, fmt.Errorf("bitmex: cancel %s in state %s: %w", orderID, status.State, domain.ErrCannotCancel)
	}
	return status, nil
}

// GetOrderStatus scans the symbol's recent orders for the given id. BitMEX
// has no by-id lookup, so this walks the newest-first order list.
func (c *Client) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error) {
	query := url.Values{}
	query.Set("symbol", contract.Symbol)
	query.Set("reverse", "true")

	var payloads []orderPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/order", query, &payloads); err != nil {
		return domain.OrderStatus{}, err
	}

	for _, p := range payloads {
		if p.OrderID == orderID {
			return p.toStatus(), nil
		}
	}
	return domain.OrderStatus{}, fmt.Errorf("bitmex: order %s on %s: %w", orderID, contract.Symbol, domain.ErrOrderNotFound)
}

// GetTradeSize converts a percentage of the XBT wallet balance into a
// contract quantity using the contract's pricing convention.
func (c *Client) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	funding, ok := balances[fundingCurrency]
	if !ok {
		return 0, fmt.Errorf("bitmex: no %s wallet balance: %w", fundingCurrency, domain.ErrNoBalance)
	}
	if price <= 0 || contract.Multiplier <= 0 {
		return 0, fmt.Errorf("bitmex: cannot size %s at price %v: %w", contract.Symbol, price, domain.ErrNoBalance)
	}

	xbtSize := funding.WalletBalance * balancePct / 100
	var contracts float64
	if contract.Kind == domain.ContractInverse {
		contracts = xbtSize / (contract.Multiplier / price)
	} else {
		contracts = xbtSize / (contract.Multiplier * price)
	}
	contracts = math.Floor(contracts)

	c.logger.Info("trade size computed",
		slog.String("symbol", contract.Symbol),
		slog.Float64("xbt_balance", funding.WalletBalance),
		slog.Float64("contracts", contracts),
	)
	return contracts, nil
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

// do builds, signs, sends, and decodes a REST request. Transport failures
// and non-200 responses are logged and surfaced as errors wrapping
// domain.ErrNoResult so callers treat them as "operation did not happen".
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("bitmex: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.BitmexHeaders(method, path, query) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("bitmex: %s %s: %w: %v", method, path, domain.ErrNoResult, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bitmex: %s %s: read body: %w", method, path, domain.ErrNoResult)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("request rejected",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("bitmex: %s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrNoResult)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("bitmex: %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func capitalizeSide(s domain.OrderSide) string {
	if s == domain.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

func capitalizeType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
