package strategy

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/order"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnector scripts order placement and fills for instance and engine
// tests.
type fakeConnector struct {
	mu            sync.Mutex
	placed        []exchange.OrderRequest
	fillPrice     float64
	fillState     domain.OrderState
	tradeSize     float64
	nextID        int
	statuses      map[string]domain.OrderStatus
	bid, ask      float64
	hasQuote      bool
	placeErr      error
	contracts     map[string]domain.Contract
	history       []domain.Candle
	tickHandlers  []exchange.TickHandler
	priceHandlers []exchange.PriceHandler
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		fillPrice: 100,
		fillState: domain.OrderStateFilled,
		tradeSize: 500,
		statuses:  make(map[string]domain.OrderStatus),
	}
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) GetContracts(context.Context) (map[string]domain.Contract, error) {
	return f.contracts, nil
}

func (f *fakeConnector) GetBalances(context.Context) (map[string]domain.Balance, error) {
	return nil, nil
}

func (f *fakeConnector) GetHistoricalCandles(context.Context, domain.Contract, domain.Timeframe) ([]domain.Candle, error) {
	return f.history, nil
}

func (f *fakeConnector) PlaceOrder(_ context.Context, _ domain.Contract, req exchange.OrderRequest) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderStatus{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.nextID++
	id := "order-" + strconv.Itoa(f.nextID)
	status := domain.OrderStatus{OrderID: id, State: f.fillState, AvgPrice: f.fillPrice}
	f.statuses[id] = status
	return domain.OrderStatus{OrderID: id, State: domain.OrderStateNew}, nil
}

func (f *fakeConnector) CancelOrder(_ context.Context, _ domain.Contract, orderID string) (domain.OrderStatus, error) {
	return f.statuses[orderID], nil
}

func (f *fakeConnector) GetOrderStatus(_ context.Context, _ domain.Contract, orderID string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	return status, nil
}

func (f *fakeConnector) GetTradeSize(context.Context, domain.Contract, float64, float64) (float64, error) {
	return f.tradeSize, nil
}

func (f *fakeConnector) BestPrices(string) (float64, float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bid, f.ask, f.hasQuote
}

func (f *fakeConnector) Quotes() []domain.Quote    { return nil }
func (f *fakeConnector) Run(context.Context) error { return nil }
func (f *fakeConnector) Close()                    {}

func (f *fakeConnector) OnPriceUpdate(h exchange.PriceHandler) {
	f.priceHandlers = append(f.priceHandlers, h)
}

func (f *fakeConnector) OnTick(h exchange.TickHandler) {
	f.tickHandlers = append(f.tickHandlers, h)
}

func (f *fakeConnector) emitTick(tick domain.Tick) {
	for _, h := range f.tickHandlers {
		h(tick)
	}
}

func (f *fakeConnector) placedOrders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest{}, f.placed...)
}

// memoryJournal collects inserted trades.
type memoryJournal struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (j *memoryJournal) Insert(_ context.Context, trade domain.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, trade)
	return nil
}

func (j *memoryJournal) ListRecent(context.Context, int) ([]domain.Trade, error) { return nil, nil }
func (j *memoryJournal) ListClosedBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (j *memoryJournal) closed() []domain.Trade {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Trade{}, j.trades...)
}

// alwaysLong signals long on every evaluation, gated on candle closes.
type alwaysLong struct{}

func (alwaysLong) Name() string                    { return "always-long" }
func (alwaysLong) Evaluate([]domain.Candle) Signal { return SignalLong }
func (alwaysLong) EvaluatesEveryTick() bool        { return false }

// tickLong signals long on every evaluation, including intra-candle ticks.
type tickLong struct{}

func (tickLong) Name() string                    { return "tick-long" }
func (tickLong) Evaluate([]domain.Candle) Signal { return SignalLong }
func (tickLong) EvaluatesEveryTick() bool        { return true }

type neverSignal struct{}

func (neverSignal) Name() string                    { return "never" }
func (neverSignal) Evaluate([]domain.Candle) Signal { return SignalNone }
func (neverSignal) EvaluatesEveryTick() bool        { return false }

var inverseContract = domain.Contract{
	Symbol:     "XBTUSD",
	Exchange:   "bitmex",
	TickSize:   0.5,
	LotSize:    1,
	Multiplier: 1,
	Kind:       domain.ContractInverse,
}

func testDefinition() domain.StrategyDefinition {
	return domain.StrategyDefinition{
		ID:         1,
		Exchange:   "bitmex",
		Symbol:     "XBTUSD",
		Timeframe:  domain.Timeframe1m,
		Variant:    VariantTechnical,
		BalancePct: 10,
		TakeProfit: 5,
		StopLoss:   5,
	}
}

func newTestInstance(t *testing.T, conn *fakeConnector, signaler Signaler, journal *memoryJournal) *Instance {
	t.Helper()
	tracker := order.NewTracker(conn, time.Millisecond, 10, testLogger())
	return NewInstance(testDefinition(), inverseContract, signaler, conn, tracker, journal, nil, testLogger())
}

func closesSeries(closes ...float64) []domain.Candle {
	return candlesFromCloses(closes)
}

func waitForTrades(t *testing.T, inst *Instance, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(inst.Trades()) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance did not reach %d open trades in time", want)
}

func TestEntryOpensSingleTrade(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	series := closesSeries(100, 100)
	inst.OnCandleClose(context.Background(), series)
	waitForTrades(t, inst, 1)

	trades := inst.Trades()
	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, domain.PositionLong, trade.Side)
	assert.Equal(t, domain.TradeOpen, trade.Status)
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, 500.0, trade.Quantity)

	// A second signal while the slot is taken must not place another order.
	inst.OnCandleClose(context.Background(), series)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, conn.placedOrders(), 1)
	assert.Len(t, inst.Trades(), 1)
}

func TestEntryAbandonedWhenOrderRejected(t *testing.T) {
	conn := newFakeConnector()
	conn.fillState = domain.OrderStateRejected
	inst := newTestInstance(t, conn, alwaysLong{}, &memoryJournal{})

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))

	// The slot must be released so a later signal can retry.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst.mu.Lock()
		pending := inst.entryPending
		inst.mu.Unlock()
		if !pending {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, inst.Trades())

	conn.mu.Lock()
	conn.fillState = domain.OrderStateFilled
	conn.mu.Unlock()
	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)
}

func TestStopLossClosesLongAtThreshold(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	// Stop loss is 5%: a close at exactly 95.0 triggers the exit.
	conn.mu.Lock()
	conn.fillPrice = 95
	conn.mu.Unlock()
	inst.OnCandleClose(context.Background(), closesSeries(100, 95.0, 95.0))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(journal.closed()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	closed := journal.closed()
	require.Len(t, closed, 1)
	trade := closed[0]
	assert.Equal(t, domain.TradeClosed, trade.Status)
	require.NotNil(t, trade.ClosedAt)

	// Inverse PnL: (1/100 - 1/95) * 1 * 500.
	assert.InDelta(t, (1.0/100-1.0/95)*500, trade.PnL, 1e-9)
	assert.Negative(t, trade.PnL)

	// Slot released: the instance can open a new position.
	assert.Empty(t, inst.Trades())

	orders := conn.placedOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, domain.OrderSideSell, orders[1].Side)
}

func TestTakeProfitDoesNotFireInsideBand(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	// 104.9 is inside the 5% take-profit band, 95.1 inside the stop band.
	inst.OnCandleClose(context.Background(), closesSeries(100, 104.9, 104.9))
	inst.OnCandleClose(context.Background(), closesSeries(100, 95.1, 95.1))
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, journal.closed())
	assert.Len(t, conn.placedOrders(), 1)
}

func TestExitFailureKeepsPositionOpen(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	conn.mu.Lock()
	conn.placeErr = domain.ErrNoResult
	conn.mu.Unlock()
	inst.OnCandleClose(context.Background(), closesSeries(100, 90, 90))
	time.Sleep(50 * time.Millisecond)

	// Exit did not happen: the trade is still open and the journal empty.
	assert.Len(t, inst.Trades(), 1)
	assert.Empty(t, journal.closed())

	// Once the venue recovers, the next candle close retries the exit.
	conn.mu.Lock()
	conn.placeErr = nil
	conn.fillPrice = 90
	conn.mu.Unlock()
	inst.OnCandleClose(context.Background(), closesSeries(100, 90, 90))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(journal.closed()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, journal.closed(), 1)
}

func TestPriceUpdateRevaluesOpenPosition(t *testing.T) {
	conn := newFakeConnector()
	inst := newTestInstance(t, conn, alwaysLong{}, &memoryJournal{})

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	inst.OnPriceUpdate(exchange.PriceUpdate{Exchange: "bitmex", Symbol: "XBTUSD", Bid: 110, Ask: 110.5})

	trades := inst.Trades()
	require.Len(t, trades, 1)
	// Long marked at the bid: (1/100 - 1/110) * 1 * 500.
	assert.InDelta(t, (1.0/100-1.0/110)*500, trades[0].PnL, 1e-9)

	// Updates for other symbols are ignored.
	inst.OnPriceUpdate(exchange.PriceUpdate{Exchange: "bitmex", Symbol: "ETHUSD", Bid: 1, Ask: 2})
	assert.InDelta(t, (1.0/100-1.0/110)*500, inst.Trades()[0].PnL, 1e-9)
}

func TestCandleGatedEntrySkipsIntraCandleTicks(t *testing.T) {
	conn := newFakeConnector()
	inst := newTestInstance(t, conn, alwaysLong{}, &memoryJournal{})

	inst.OnCandleUpdate(context.Background(), closesSeries(100, 100))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.placedOrders())

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)
}

func TestTickDrivenEntryOpensIntraCandle(t *testing.T) {
	conn := newFakeConnector()
	inst := newTestInstance(t, conn, tickLong{}, &memoryJournal{})

	inst.OnCandleUpdate(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)
	assert.Len(t, conn.placedOrders(), 1)
}

func TestExitTriggersOnIntraCandleUpdate(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	// The stop threshold is crossed mid-candle; the exit must not wait for
	// the candle to close.
	conn.mu.Lock()
	conn.fillPrice = 94
	conn.mu.Unlock()
	inst.OnCandleUpdate(context.Background(), closesSeries(100, 94))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(journal.closed()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, journal.closed(), 1)
}

func TestExitMarksLongAtLiveBid(t *testing.T) {
	conn := newFakeConnector()
	journal := &memoryJournal{}
	inst := newTestInstance(t, conn, alwaysLong{}, journal)

	inst.OnCandleClose(context.Background(), closesSeries(100, 100))
	waitForTrades(t, inst, 1)

	// The candle close sits above the stop, but the live bid is already at
	// it; a long exits at the bid, not the candle close.
	conn.mu.Lock()
	conn.bid, conn.ask, conn.hasQuote = 95, 95.5, true
	conn.fillPrice = 95
	conn.mu.Unlock()
	inst.OnCandleClose(context.Background(), closesSeries(100, 96, 96))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(journal.closed()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, journal.closed(), 1)
}

func TestNoSignalPlacesNoOrders(t *testing.T) {
	conn := newFakeConnector()
	inst := newTestInstance(t, conn, neverSignal{}, &memoryJournal{})

	inst.OnCandleClose(context.Background(), closesSeries(100, 101, 102))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.placedOrders())
	assert.Empty(t, inst.Trades())
}
