// Package strategy evaluates trading strategies over live candle series and
// manages the resulting positions.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/candle"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/order"
)

// EngineConfig carries the engine-wide tunables shared by all instances.
type EngineConfig struct {
	// OrderPollInterval is how often pending orders are polled.
	OrderPollInterval time.Duration
	// OrderPollMaxAttempts bounds the polls per order.
	OrderPollMaxAttempts int
	// CandleHistoryLimit is how many candles each series retains.
	CandleHistoryLimit int
}

type seriesKey struct {
	exchange  string
	symbol    string
	timeframe domain.Timeframe
}

type series struct {
	aggregator *candle.Aggregator
	instances  []*Instance
}

// Engine owns the candle series and strategy instances for every configured
// venue. It consumes connector tick and price events and fans candle closes
// out to the instances evaluating that series.
type Engine struct {
	cfg        EngineConfig
	connectors map[string]exchange.Connector
	trackers   map[string]*order.Tracker
	journal    domain.TradeStore
	events     EventSink
	logger     *slog.Logger

	mu     sync.RWMutex
	series map[seriesKey]*series
}

// NewEngine creates an engine over the given connectors, keyed by venue
// name. journal persists closed trades; events surfaces strategy activity.
func NewEngine(
	cfg EngineConfig,
	connectors map[string]exchange.Connector,
	journal domain.TradeStore,
	events EventSink,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		connectors: connectors,
		trackers:   make(map[string]*order.Tracker, len(connectors)),
		journal:    journal,
		events:     events,
		logger:     logger.With(slog.String("component", "engine")),
		series:     make(map[seriesKey]*series),
	}
	for name, conn := range connectors {
		e.trackers[name] = order.NewTracker(conn, cfg.OrderPollInterval, cfg.OrderPollMaxAttempts, logger)
	}
	return e
}

// Init resolves each definition against its venue's contract table, seeds
// the candle series from venue history, and registers the streaming
// handlers. Call once before the connectors start streaming.
func (e *Engine) Init(ctx context.Context, defs []domain.StrategyDefinition) error {
	contracts := make(map[string]map[string]domain.Contract, len(e.connectors))
	for name, conn := range e.connectors {
		table, err := conn.GetContracts(ctx)
		if err != nil {
			return fmt.Errorf("strategy: load %s contracts: %w", name, err)
		}
		contracts[name] = table
	}

	for _, def := range defs {
		if err := e.addInstance(ctx, def, contracts); err != nil {
			return err
		}
	}

	for name, conn := range e.connectors {
		venue := name
		conn.OnTick(func(tick domain.Tick) { e.onTick(ctx, venue, tick) })
		conn.OnPriceUpdate(e.onPriceUpdate)
	}
	return nil
}

func (e *Engine) addInstance(ctx context.Context, def domain.StrategyDefinition, contracts map[string]map[string]domain.Contract) error {
	conn, ok := e.connectors[def.Exchange]
	if !ok {
		return fmt.Errorf("strategy: definition %d references unknown exchange %q", def.ID, def.Exchange)
	}
	contract, ok := contracts[def.Exchange][def.Symbol]
	if !ok {
		return fmt.Errorf("strategy: %s does not list contract %q: %w", def.Exchange, def.Symbol, domain.ErrNotFound)
	}
	signaler, err := NewSignaler(def)
	if err != nil {
		return err
	}

	inst := NewInstance(def, contract, signaler, conn, e.trackers[def.Exchange], e.journal, e.events, e.logger)

	key := seriesKey{exchange: def.Exchange, symbol: def.Symbol, timeframe: def.Timeframe}
	e.mu.Lock()
	s, ok := e.series[key]
	if !ok {
		s = &series{aggregator: candle.NewAggregator(def.Symbol, def.Timeframe, e.cfg.CandleHistoryLimit, e.logger)}
		e.series[key] = s
	}
	s.instances = append(s.instances, inst)
	e.mu.Unlock()

	if !ok {
		history, err := conn.GetHistoricalCandles(ctx, contract, def.Timeframe)
		if err != nil {
			e.logger.Warn("candle history seed failed, starting cold",
				slog.String("exchange", def.Exchange),
				slog.String("symbol", def.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			s.aggregator.Seed(history)
		}
	}

	e.logger.Info("strategy instance registered", slog.String("strategy", inst.Name()))
	return nil
}

// onTick folds a trade tick into every series for its venue and symbol, then
// hands the updated history to the instances. Candle closes drive the full
// evaluation; intra-candle ticks re-check exits and tick-driven entries.
func (e *Engine) onTick(ctx context.Context, venue string, tick domain.Tick) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for key, s := range e.series {
		if key.exchange != venue || key.symbol != tick.Symbol {
			continue
		}
		update := s.aggregator.Apply(tick)
		if update.Kind == candle.TickStale {
			continue
		}
		history := s.aggregator.History()
		for _, inst := range s.instances {
			if update.Kind == candle.TickNewCandle {
				inst.OnCandleClose(ctx, history)
			} else {
				inst.OnCandleUpdate(ctx, history)
			}
		}
	}
}

func (e *Engine) onPriceUpdate(update exchange.PriceUpdate) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for key, s := range e.series {
		if key.exchange != update.Exchange || key.symbol != update.Symbol {
			continue
		}
		for _, inst := range s.instances {
			inst.OnPriceUpdate(update)
		}
	}
}

// Trades snapshots every instance's current positions, grouped by strategy
// name, for the UI surface.
func (e *Engine) Trades() map[string][]domain.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string][]domain.Trade)
	for _, s := range e.series {
		for _, inst := range s.instances {
			if trades := inst.Trades(); len(trades) > 0 {
				out[inst.Name()] = append(out[inst.Name()], trades...)
			}
		}
	}
	return out
}

// SeriesHistory is a snapshot of one live candle series.
type SeriesHistory struct {
	Exchange  string
	Symbol    string
	Timeframe domain.Timeframe
	Candles   []domain.Candle
}

// Histories snapshots every candle series the engine maintains. The archiver
// uses this to persist completed days of history.
func (e *Engine) Histories() []SeriesHistory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SeriesHistory, 0, len(e.series))
	for key, s := range e.series {
		out = append(out, SeriesHistory{
			Exchange:  key.exchange,
			Symbol:    key.symbol,
			Timeframe: key.timeframe,
			Candles:   s.aggregator.History(),
		})
	}
	return out
}

// Instances lists the registered instances.
func (e *Engine) Instances() []*Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Instance
	for _, s := range e.series {
		out = append(out, s.instances...)
	}
	return out
}
