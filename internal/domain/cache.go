package domain

import (
	"context"
	"time"
)

// Quote is the best bid/ask snapshot for one symbol.
type Quote struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Time     time.Time `json:"time"`
}

// PriceCache is the read-only price surface consumed by the UI layer. The
// engine writes, the UI only reads.
type PriceCache interface {
	SetQuotes(ctx context.Context, quotes []Quote) error
	GetQuote(ctx context.Context, exchange, symbol string) (Quote, error)
}

// TradeCache exposes the current trade list with live PnL to the UI layer.
type TradeCache interface {
	SetTrades(ctx context.Context, strategy string, trades []Trade) error
	GetTrades(ctx context.Context, strategy string) ([]Trade, error)
}

// EventLog is the append-only strategy event surface. Entries stay pending
// until the consumer marks them displayed; the engine never re-delivers a
// displayed entry.
type EventLog interface {
	Append(ctx context.Context, entry LogEntry) error
	Pending(ctx context.Context, strategy string) ([]LogEntry, error)
	MarkDisplayed(ctx context.Context, strategy string) error
}
