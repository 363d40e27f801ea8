package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
)

func newTestEngine(conn *fakeConnector) *Engine {
	return NewEngine(
		EngineConfig{
			OrderPollInterval:    time.Millisecond,
			OrderPollMaxAttempts: 10,
			CandleHistoryLimit:   100,
		},
		map[string]exchange.Connector{"bitmex": conn},
		&memoryJournal{},
		nil,
		testLogger(),
	)
}

func TestEngineInitRejectsUnknownExchange(t *testing.T) {
	conn := newFakeConnector()
	conn.contracts = map[string]domain.Contract{"XBTUSD": inverseContract}
	engine := newTestEngine(conn)

	def := testDefinition()
	def.Exchange = "kraken"
	err := engine.Init(context.Background(), []domain.StrategyDefinition{def})
	assert.Error(t, err)
}

func TestEngineInitRejectsUnknownContract(t *testing.T) {
	conn := newFakeConnector()
	conn.contracts = map[string]domain.Contract{"XBTUSD": inverseContract}
	engine := newTestEngine(conn)

	def := testDefinition()
	def.Symbol = "DOGEUSD"
	err := engine.Init(context.Background(), []domain.StrategyDefinition{def})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineRoutesTicksToInstances(t *testing.T) {
	conn := newFakeConnector()
	conn.contracts = map[string]domain.Contract{"XBTUSD": inverseContract}
	// Seed history so the first live tick is a candle close, not a cold
	// start.
	conn.history = candlesFromCloses([]float64{100, 100, 100})
	engine := newTestEngine(conn)

	def := testDefinition()
	def.Variant = VariantBreakout
	def.Params = map[string]float64{"lookback": 1}
	require.NoError(t, engine.Init(context.Background(), []domain.StrategyDefinition{def}))
	require.Len(t, engine.Instances(), 1)

	// A tick above the prior candle's range triggers a breakout entry.
	conn.emitTick(domain.Tick{Symbol: "XBTUSD", Price: 105, Size: 1, Timestamp: 3 * 60_000})

	inst := engine.Instances()[0]
	waitForTrades(t, inst, 1)

	trades := engine.Trades()
	require.Len(t, trades[inst.Name()], 1)
	assert.Equal(t, domain.PositionLong, trades[inst.Name()][0].Side)

	// Ticks for other symbols are ignored.
	conn.emitTick(domain.Tick{Symbol: "ETHUSD", Price: 1, Size: 1, Timestamp: 5 * 60_000})
	assert.Len(t, conn.placedOrders(), 1)
}

func TestEngineHistoriesSnapshotsSeries(t *testing.T) {
	conn := newFakeConnector()
	conn.contracts = map[string]domain.Contract{"XBTUSD": inverseContract}
	conn.history = candlesFromCloses([]float64{100, 101, 102})
	engine := newTestEngine(conn)

	require.NoError(t, engine.Init(context.Background(), []domain.StrategyDefinition{testDefinition()}))

	histories := engine.Histories()
	require.Len(t, histories, 1)
	assert.Equal(t, "bitmex", histories[0].Exchange)
	assert.Equal(t, "XBTUSD", histories[0].Symbol)
	assert.Equal(t, domain.Timeframe1m, histories[0].Timeframe)
	assert.Len(t, histories[0].Candles, 3)
}
