// Package feed publishes engine state snapshots to the cache surface the UI
// reads: live quotes, open trades with unrealized PnL, and pending strategy
// events.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/strategy"
)

// defaultSnapshotInterval is used when the configured interval is zero.
const defaultSnapshotInterval = time.Second

// Publisher periodically snapshots the connectors' live price tables and the
// engine's open trades into the caches.
type Publisher struct {
	connectors map[string]exchange.Connector
	engine     *strategy.Engine
	prices     domain.PriceCache
	trades     domain.TradeCache
	interval   time.Duration
	logger     *slog.Logger
}

// NewPublisher creates a Publisher snapshotting every interval.
func NewPublisher(
	connectors map[string]exchange.Connector,
	engine *strategy.Engine,
	prices domain.PriceCache,
	trades domain.TradeCache,
	interval time.Duration,
	logger *slog.Logger,
) *Publisher {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	return &Publisher{
		connectors: connectors,
		engine:     engine,
		prices:     prices,
		trades:     trades,
		interval:   interval,
		logger:     logger.With(slog.String("component", "feed")),
	}
}

// Run snapshots on a fixed ticker until ctx is cancelled. Cache failures are
// logged and skipped; the next tick retries.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("feed publisher started", slog.Duration("interval", p.interval))
	defer p.logger.Info("feed publisher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	var quotes []domain.Quote
	for _, conn := range p.connectors {
		quotes = append(quotes, conn.Quotes()...)
	}
	if err := p.prices.SetQuotes(ctx, quotes); err != nil {
		p.logger.Warn("quote snapshot failed", slog.String("error", err.Error()))
	}

	for strategyName, trades := range p.engine.Trades() {
		if err := p.trades.SetTrades(ctx, strategyName, trades); err != nil {
			p.logger.Warn("trade snapshot failed",
				slog.String("strategy", strategyName),
				slog.String("error", err.Error()),
			)
		}
	}
}

// EventAppender adapts a domain.EventLog to the engine's event sink: each
// strategy event becomes a pending log entry.
type EventAppender struct {
	log    domain.EventLog
	logger *slog.Logger
}

// NewEventAppender creates the adapter.
func NewEventAppender(log domain.EventLog, logger *slog.Logger) *EventAppender {
	return &EventAppender{
		log:    log,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Emit appends one strategy event. Failures are logged, never propagated:
// the trading path must not stall on the UI surface.
func (e *EventAppender) Emit(ctx context.Context, strategyName, message string) {
	entry := domain.LogEntry{
		Time:     time.Now(),
		Strategy: strategyName,
		Message:  message,
	}
	if err := e.log.Append(ctx, entry); err != nil {
		e.logger.Warn("event append failed",
			slog.String("strategy", strategyName),
			slog.String("error", err.Error()),
		)
	}
}

var _ strategy.EventSink = (*EventAppender)(nil)
