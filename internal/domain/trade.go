package domain

import "time"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// OrderSide returns the order side that opens a position on this side.
func (s PositionSide) OrderSide() OrderSide {
	if s == PositionLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// TradeStatus is the lifecycle state of a Trade. A trade transitions
// open -> closed exactly once, triggered by a successful exit order placement.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is one position opened by a strategy instance. EntryPrice is zero
// until the entry order's fill is confirmed; PnL is recomputed on every
// price update while the trade is open.
type Trade struct {
	ID           string
	OpenedAt     time.Time
	Contract     Contract
	Strategy     string
	Side         PositionSide
	Status       TradeStatus
	EntryOrderID string
	EntryPrice   float64
	Quantity     float64
	PnL          float64
	ExitOrderID  string
	ClosedAt     *time.Time
}

// EntryConfirmed reports whether the entry fill price is known.
func (t *Trade) EntryConfirmed() bool {
	return t.EntryPrice > 0
}

// PnL computes the unrealized profit of a position valued at the given mark
// price (bid for longs, ask for shorts). Inverse contracts settle in the base
// currency, so price enters inverted; quanto and linear contracts share the
// plain difference formula.
func PnL(c Contract, side PositionSide, entry, mark, quantity float64) float64 {
	if entry <= 0 || mark <= 0 {
		return 0
	}
	if c.Kind == ContractInverse {
		if side == PositionLong {
			return (1/entry - 1/mark) * c.Multiplier * quantity
		}
		return (1/mark - 1/entry) * c.Multiplier * quantity
	}
	if side == PositionLong {
		return (mark - entry) * c.Multiplier * quantity
	}
	return (entry - mark) * c.Multiplier * quantity
}
