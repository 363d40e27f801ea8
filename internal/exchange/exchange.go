// Package exchange defines the capability set every venue connector
// implements: signed REST operations plus a persistent streaming connection
// that publishes live price and trade-tick events.
package exchange

import (
	"context"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// PriceUpdate is a best bid/ask change for one symbol.
type PriceUpdate struct {
	Exchange string
	Symbol   string
	Bid      float64
	Ask      float64
}

// PriceHandler is called for each incoming price update. Handlers run on the
// streaming receive path and must not block.
type PriceHandler func(update PriceUpdate)

// TickHandler is called for each incoming trade tick. Handlers run on the
// streaming receive path and must not block.
type TickHandler func(tick domain.Tick)

// OrderRequest describes an order to place. Quantity is rounded to the
// contract's lot size and Price (when set) to its tick size by the connector.
type OrderRequest struct {
	Type        domain.OrderType
	Side        domain.OrderSide
	Quantity    float64
	Price       *float64
	TimeInForce string
}

// Connector is the per-venue capability set. REST operations return an error
// wrapping domain.ErrNoResult when the operation did not happen (transport
// failure or venue rejection); callers treat that as a no-op, never as a
// zero value.
type Connector interface {
	// Name returns the venue identifier ("bitmex", "binance").
	Name() string

	GetContracts(ctx context.Context) (map[string]domain.Contract, error)
	GetBalances(ctx context.Context) (map[string]domain.Balance, error)

	// GetHistoricalCandles returns up to the venue's history limit of
	// candles, oldest first.
	GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error)

	PlaceOrder(ctx context.Context, contract domain.Contract, req OrderRequest) (domain.OrderStatus, error)
	CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error)
	GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error)

	// GetTradeSize converts a percentage of the available funding-currency
	// balance into a contract quantity using the contract's pricing
	// convention. Returns domain.ErrNoBalance when the funding currency
	// cannot be resolved.
	GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error)

	// BestPrices returns the live best bid/ask for a symbol, if known.
	BestPrices(symbol string) (bid, ask float64, ok bool)

	// Quotes snapshots the full live price table.
	Quotes() []domain.Quote

	OnPriceUpdate(h PriceHandler)
	OnTick(h TickHandler)

	// Run drives the streaming connection: subscribe on open, reconnect on
	// unexpected closure, stop when ctx is cancelled or Close is called.
	Run(ctx context.Context) error
	Close()
}
