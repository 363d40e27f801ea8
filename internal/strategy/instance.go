package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/order"
)

// EventSink receives human-readable strategy events for the UI surface.
// Implementations must be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, strategy, message string)
}

// Instance runs one strategy definition against one contract. It holds at
// most one position at a time: the open slot is claimed when an entry order
// is submitted and released when the exit fill is journaled or the entry
// fails.
type Instance struct {
	def       domain.StrategyDefinition
	contract  domain.Contract
	signaler  Signaler
	connector exchange.Connector
	tracker   *order.Tracker
	journal   domain.TradeStore
	events    EventSink
	logger    *slog.Logger

	newID func() string
	now   func() time.Time

	mu           sync.Mutex
	open         *domain.Trade
	entryPending bool
	exitPending  bool
}

// NewInstance wires a strategy definition to its venue connector. journal
// and events may not be nil; use no-op implementations when persistence is
// disabled.
func NewInstance(
	def domain.StrategyDefinition,
	contract domain.Contract,
	signaler Signaler,
	connector exchange.Connector,
	tracker *order.Tracker,
	journal domain.TradeStore,
	events EventSink,
	logger *slog.Logger,
) *Instance {
	inst := &Instance{
		def:       def,
		contract:  contract,
		signaler:  signaler,
		connector: connector,
		tracker:   tracker,
		journal:   journal,
		events:    events,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	inst.logger = logger.With(
		slog.String("component", "strategy"),
		slog.String("strategy", inst.Name()),
	)
	return inst
}

// Name identifies the instance in logs, events, and the trade journal.
func (i *Instance) Name() string {
	return fmt.Sprintf("%s:%s:%s:%s", i.def.Variant, i.def.Exchange, i.def.Symbol, i.def.Timeframe)
}

// Symbol returns the traded contract symbol.
func (i *Instance) Symbol() string { return i.contract.Symbol }

// Exchange returns the venue the instance trades on.
func (i *Instance) Exchange() string { return i.def.Exchange }

// Timeframe returns the candle interval the instance evaluates on.
func (i *Instance) Timeframe() domain.Timeframe { return i.def.Timeframe }

// OnCandleClose evaluates the instance when a candle closes. Entry signals
// for candle-gated variants are only taken here.
func (i *Instance) OnCandleClose(ctx context.Context, candles []domain.Candle) {
	i.evaluate(ctx, candles, true)
}

// OnCandleUpdate evaluates the instance on an intra-candle tick. Exit
// thresholds are re-checked on every update; entries are only taken when the
// variant evaluates every tick.
func (i *Instance) OnCandleUpdate(ctx context.Context, candles []domain.Candle) {
	i.evaluate(ctx, candles, false)
}

// evaluate runs the state machine against the candle series, oldest first
// with the still-open candle last. With a confirmed position it checks the
// exit thresholds against the current mark price; otherwise it asks the
// signaler for an entry. Order placement runs asynchronously so the caller,
// the tick feed, never blocks on REST.
func (i *Instance) evaluate(ctx context.Context, candles []domain.Candle, closed bool) {
	if len(candles) < 2 {
		return
	}
	// The forming candle's close is the latest price the series has seen.
	lastPrice := candles[len(candles)-1].Close

	i.mu.Lock()
	switch {
	case i.exitPending || i.entryPending:
		i.mu.Unlock()
		return

	case i.open != nil:
		trade := *i.open
		i.mu.Unlock()
		if !trade.EntryConfirmed() {
			return
		}
		mark := i.markPrice(trade.Side.OrderSide().Opposite(), lastPrice)
		if reason, hit := exitReason(trade.Side, trade.EntryPrice, mark, i.def.TakeProfit, i.def.StopLoss); hit {
			i.mu.Lock()
			i.exitPending = true
			i.mu.Unlock()
			go i.closePosition(ctx, trade, mark, reason)
		}

	default:
		if !closed && !i.signaler.EvaluatesEveryTick() {
			i.mu.Unlock()
			return
		}
		sig := i.signaler.Evaluate(candles)
		if sig == SignalNone {
			i.mu.Unlock()
			return
		}
		i.entryPending = true
		i.mu.Unlock()
		go i.openPosition(ctx, sig, lastPrice)
	}
}

// OnPriceUpdate revalues the open position from the latest best prices.
// Longs are marked at the bid, shorts at the ask.
func (i *Instance) OnPriceUpdate(update exchange.PriceUpdate) {
	if update.Symbol != i.contract.Symbol {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.open == nil || !i.open.EntryConfirmed() {
		return
	}
	mark := update.Bid
	if i.open.Side == domain.PositionShort {
		mark = update.Ask
	}
	i.open.PnL = domain.PnL(i.contract, i.open.Side, i.open.EntryPrice, mark, i.open.Quantity)
}

// Trades snapshots the instance's current position list for the UI surface.
func (i *Instance) Trades() []domain.Trade {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.open == nil {
		return nil
	}
	return []domain.Trade{*i.open}
}

func (i *Instance) openPosition(ctx context.Context, sig Signal, refPrice float64) {
	side := domain.PositionLong
	if sig == SignalShort {
		side = domain.PositionShort
	}

	price := i.markPrice(side.OrderSide(), refPrice)
	quantity, err := i.connector.GetTradeSize(ctx, i.contract, price, i.def.BalancePct)
	if err != nil || quantity <= 0 {
		i.abandonEntry(ctx, fmt.Sprintf("entry skipped: sizing failed (%v)", err))
		return
	}

	status, err := i.connector.PlaceOrder(ctx, i.contract, exchange.OrderRequest{
		Type:     domain.OrderTypeMarket,
		Side:     side.OrderSide(),
		Quantity: quantity,
	})
	if err != nil {
		i.abandonEntry(ctx, fmt.Sprintf("entry order failed: %v", err))
		return
	}

	i.emit(ctx, fmt.Sprintf("entry order %s submitted: %s %v %s", status.OrderID, side, quantity, i.contract.Symbol))

	final, err := i.tracker.Await(ctx, i.contract, status.OrderID)
	if err != nil || final.State != domain.OrderStateFilled {
		i.abandonEntry(ctx, fmt.Sprintf("entry order %s not filled (state=%s err=%v)", status.OrderID, final.State, err))
		return
	}

	trade := domain.Trade{
		ID:           i.newID(),
		OpenedAt:     i.now(),
		Contract:     i.contract,
		Strategy:     i.Name(),
		Side:         side,
		Status:       domain.TradeOpen,
		EntryOrderID: final.OrderID,
		EntryPrice:   final.AvgPrice,
		Quantity:     quantity,
	}

	i.mu.Lock()
	i.open = &trade
	i.entryPending = false
	i.mu.Unlock()

	i.logger.Info("position opened",
		slog.String("side", string(side)),
		slog.Float64("entry_price", trade.EntryPrice),
		slog.Float64("quantity", quantity),
	)
	i.emit(ctx, fmt.Sprintf("position opened: %s %v %s @ %v", side, quantity, i.contract.Symbol, trade.EntryPrice))
}

func (i *Instance) closePosition(ctx context.Context, trade domain.Trade, refPrice float64, reason string) {
	status, err := i.connector.PlaceOrder(ctx, i.contract, exchange.OrderRequest{
		Type:     domain.OrderTypeMarket,
		Side:     trade.Side.OrderSide().Opposite(),
		Quantity: trade.Quantity,
	})
	if err != nil {
		// The position stays open; the next candle close retries.
		i.logger.Error("exit order failed", slog.String("error", err.Error()))
		i.emit(ctx, fmt.Sprintf("exit order failed, will retry: %v", err))
		i.mu.Lock()
		i.exitPending = false
		i.mu.Unlock()
		return
	}

	i.emit(ctx, fmt.Sprintf("exit order %s submitted (%s)", status.OrderID, reason))

	final, err := i.tracker.Await(ctx, i.contract, status.OrderID)
	if err != nil || final.State != domain.OrderStateFilled {
		i.logger.Error("exit order not filled",
			slog.String("order_id", status.OrderID),
			slog.String("state", string(final.State)),
		)
		i.emit(ctx, fmt.Sprintf("exit order %s not filled (state=%s err=%v)", status.OrderID, final.State, err))
		i.mu.Lock()
		i.exitPending = false
		i.mu.Unlock()
		return
	}

	exitPrice := final.AvgPrice
	if exitPrice <= 0 {
		exitPrice = refPrice
	}
	closedAt := i.now()
	trade.Status = domain.TradeClosed
	trade.ExitOrderID = final.OrderID
	trade.ClosedAt = &closedAt
	trade.PnL = domain.PnL(i.contract, trade.Side, trade.EntryPrice, exitPrice, trade.Quantity)

	i.mu.Lock()
	i.open = nil
	i.exitPending = false
	i.mu.Unlock()

	i.logger.Info("position closed",
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", trade.PnL),
	)
	i.emit(ctx, fmt.Sprintf("position closed (%s): pnl %v", reason, trade.PnL))

	if err := i.journal.Insert(ctx, trade); err != nil {
		i.logger.Error("trade journal insert failed", slog.String("error", err.Error()))
	}
}

func (i *Instance) abandonEntry(ctx context.Context, message string) {
	i.mu.Lock()
	i.entryPending = false
	i.mu.Unlock()
	i.logger.Warn("entry abandoned", slog.String("detail", message))
	i.emit(ctx, message)
}

// markPrice picks the live touch price for an order side, falling back to
// the last close when no quote is known yet.
func (i *Instance) markPrice(side domain.OrderSide, fallback float64) float64 {
	bid, ask, ok := i.connector.BestPrices(i.contract.Symbol)
	if !ok {
		return fallback
	}
	if side == domain.OrderSideBuy {
		return ask
	}
	return bid
}

func (i *Instance) emit(ctx context.Context, message string) {
	if i.events != nil {
		i.events.Emit(ctx, i.Name(), message)
	}
}

// exitReason checks the take-profit and stop-loss thresholds against the
// current mark price. Thresholds are inclusive percentages of the entry
// price; a zero threshold disables that side.
func exitReason(side domain.PositionSide, entry, mark, takeProfit, stopLoss float64) (string, bool) {
	if entry <= 0 {
		return "", false
	}
	if side == domain.PositionLong {
		if stopLoss > 0 && mark <= entry*(1-stopLoss/100) {
			return "stop loss", true
		}
		if takeProfit > 0 && mark >= entry*(1+takeProfit/100) {
			return "take profit", true
		}
		return "", false
	}
	if stopLoss > 0 && mark >= entry*(1+stopLoss/100) {
		return "stop loss", true
	}
	if takeProfit > 0 && mark <= entry*(1-takeProfit/100) {
		return "take profit", true
	}
	return "", false
}
