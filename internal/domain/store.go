package domain

import (
	"context"
	"time"
)

// StrategyDefinition is a persisted strategy configuration record. The engine
// only needs a constructor taking these fields; how they are stored is the
// store's concern.
type StrategyDefinition struct {
	ID         int64
	Exchange   string
	Symbol     string
	Timeframe  Timeframe
	Variant    string // "technical" or "breakout"
	BalancePct float64
	TakeProfit float64
	StopLoss   float64
	// Params carries variant-specific parameters (ema_fast, ema_slow,
	// ema_signal, rsi_length, min_volume).
	Params map[string]float64
}

// Key identifies the definition independently of its store ID. Two
// definitions with the same key describe the same strategy instance.
func (d StrategyDefinition) Key() string {
	return d.Variant + ":" + d.Exchange + ":" + d.Symbol + ":" + string(d.Timeframe)
}

// StrategyConfigStore persists strategy definitions across runs.
type StrategyConfigStore interface {
	List(ctx context.Context) ([]StrategyDefinition, error)
	Save(ctx context.Context, def StrategyDefinition) (int64, error)
	Delete(ctx context.Context, id int64) error
}

// WatchlistStore persists the symbols subscribed per exchange.
type WatchlistStore interface {
	List(ctx context.Context, exchange string) ([]string, error)
	Add(ctx context.Context, exchange, symbol string) error
	Remove(ctx context.Context, exchange, symbol string) error
}

// TradeStore journals closed trades so they outlive the process.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
}
