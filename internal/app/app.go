// Package app provides the top-level application lifecycle. It wires the
// venue connectors, stores, caches, and object storage together, starts the
// strategy engine and the supporting goroutines, and tears everything down in
// reverse order on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/config"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/feed"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/strategy"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, initializes the
// strategy engine, starts the connector streams and the supporting loops, and
// blocks until the context is cancelled or a goroutine fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("strategies", len(a.cfg.Strategies)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	engine := strategy.NewEngine(
		strategy.EngineConfig{
			OrderPollInterval:    a.cfg.Engine.OrderPollInterval.Duration,
			OrderPollMaxAttempts: a.cfg.Engine.OrderPollMaxAttempts,
			CandleHistoryLimit:   a.cfg.Engine.CandleHistoryLimit,
		},
		deps.Connectors,
		deps.TradeStore,
		deps.Events,
		a.logger,
	)

	defs, err := a.strategyDefinitions(ctx, deps)
	if err != nil {
		return err
	}
	if err := engine.Init(ctx, defs); err != nil {
		return fmt.Errorf("app: init engine: %w", err)
	}
	a.logger.InfoContext(ctx, "engine initialized",
		slog.Int("instances", len(engine.Instances())),
	)

	g, ctx := errgroup.WithContext(ctx)

	for name, conn := range deps.Connectors {
		name, conn := name, conn
		g.Go(func() error {
			if err := conn.Run(ctx); err != nil {
				return fmt.Errorf("app: %s stream: %w", name, err)
			}
			return nil
		})
	}

	if deps.PriceCache != nil && deps.TradeCache != nil {
		publisher := feed.NewPublisher(
			deps.Connectors,
			engine,
			deps.PriceCache,
			deps.TradeCache,
			a.cfg.Engine.SnapshotInterval.Duration,
			a.logger,
		)
		g.Go(func() error { return publisher.Run(ctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchival(ctx, deps, engine) })
	}

	return g.Wait()
}

// strategyDefinitions merges the config-file strategies with the persisted
// store. A persisted definition with the same identity wins so runtime edits
// survive restarts.
func (a *App) strategyDefinitions(ctx context.Context, deps *Dependencies) ([]domain.StrategyDefinition, error) {
	merged := make(map[string]domain.StrategyDefinition)
	order := make([]string, 0, len(a.cfg.Strategies))
	for _, s := range a.cfg.Strategies {
		def := s.Definition()
		key := def.Key()
		merged[key] = def
		order = append(order, key)
	}

	persisted, err := deps.StratCfgStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load persisted strategies: %w", err)
	}
	for _, def := range persisted {
		key := def.Key()
		if _, exists := merged[key]; !exists {
			order = append(order, key)
		}
		merged[key] = def
	}

	defs := make([]domain.StrategyDefinition, 0, len(order))
	for _, key := range order {
		defs = append(defs, merged[key])
	}
	return defs, nil
}

// runArchival periodically uploads closed trades and the previous UTC day of
// candle history to object storage.
func (a *App) runArchival(ctx context.Context, deps *Dependencies, engine *strategy.Engine) error {
	interval := a.cfg.S3.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("archival started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx, deps, engine)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, engine *strategy.Engine) {
	now := time.Now().UTC()

	if n, err := deps.Archiver.ArchiveTrades(ctx, now); err != nil {
		a.logger.Warn("trade archival failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.Info("trades archived", slog.Int64("count", n))
	}

	day := now.AddDate(0, 0, -1).Truncate(24 * time.Hour)
	dayStart := day.UnixMilli()
	dayEnd := day.AddDate(0, 0, 1).UnixMilli()
	for _, h := range engine.Histories() {
		var completed []domain.Candle
		for _, c := range h.Candles {
			if c.OpenTime >= dayStart && c.OpenTime < dayEnd {
				completed = append(completed, c)
			}
		}
		n, err := deps.Archiver.ArchiveCandles(ctx, h.Exchange, h.Symbol, h.Timeframe, day, completed)
		if err != nil {
			a.logger.Warn("candle archival failed",
				slog.String("exchange", h.Exchange),
				slog.String("symbol", h.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.Info("candles archived",
				slog.String("exchange", h.Exchange),
				slog.String("symbol", h.Symbol),
				slog.String("timeframe", string(h.Timeframe)),
				slog.Int64("count", n),
			)
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
