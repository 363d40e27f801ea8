package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	s3blob "github.com/BellaBe/crypto-trading-bot-sample/internal/blob/s3"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/cache/redis"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/config"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/crypto"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange/binance"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/exchange/bitmex"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/feed"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/store/postgres"
	"github.com/BellaBe/crypto-trading-bot-sample/internal/strategy"
)

// Dependencies bundles everything the application needs to run: the venue
// connectors, the persisted stores, the snapshot caches, and object storage.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Connectors, keyed by venue name.
	Connectors map[string]exchange.Connector

	// Stores. Backed by Postgres when enabled, no-ops otherwise.
	TradeStore     domain.TradeStore
	StratCfgStore  domain.StrategyConfigStore
	WatchlistStore domain.WatchlistStore

	// Snapshot surface. Nil when Redis is disabled.
	PriceCache domain.PriceCache
	TradeCache domain.TradeCache
	EventLog   domain.EventLog
	Events     strategy.EventSink

	// Object storage. Nil when S3 is disabled.
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Connectors:     make(map[string]exchange.Connector),
		TradeStore:     nopTradeStore{},
		StratCfgStore:  nopStrategyConfigStore{},
		WatchlistStore: nopWatchlistStore{},
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.StratCfgStore = postgres.NewStrategyConfigStore(pool)
		deps.WatchlistStore = postgres.NewWatchlistStore(pool)
	}

	// --- Venue connectors ---
	if cfg.Bitmex.Enabled {
		secret, err := venueSecret(cfg.Bitmex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: bitmex secret: %w", err)
		}
		conn := bitmex.New(bitmex.Config{
			Key:          cfg.Bitmex.ApiKey,
			Secret:       secret,
			Testnet:      cfg.Bitmex.Testnet,
			BaseURL:      cfg.Bitmex.BaseURL,
			WsURL:        cfg.Bitmex.WsURL,
			HistoryLimit: cfg.Engine.CandleHistoryLimit,
		}, logger)
		deps.Connectors[conn.Name()] = conn
		closers = append(closers, conn.Close)
	}
	if cfg.Binance.Enabled {
		secret, err := venueSecret(cfg.Binance)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: binance secret: %w", err)
		}
		symbols, err := binanceSymbols(ctx, cfg, deps.WatchlistStore)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: binance watchlist: %w", err)
		}
		conn := binance.New(binance.Config{
			Key:          cfg.Binance.ApiKey,
			Secret:       secret,
			Testnet:      cfg.Binance.Testnet,
			BaseURL:      cfg.Binance.BaseURL,
			WsURL:        cfg.Binance.WsURL,
			HistoryLimit: cfg.Engine.CandleHistoryLimit,
			Symbols:      symbols,
		}, logger)
		deps.Connectors[conn.Name()] = conn
		closers = append(closers, conn.Close)
	}

	// --- Redis snapshot surface ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.TradeCache = redis.NewTradeCache(redisClient)
		deps.EventLog = redis.NewEventLog(redisClient)
		deps.Events = feed.NewEventAppender(deps.EventLog, logger)
	}

	// --- S3 archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(s3Client, reader, deps.TradeStore)
	}

	return deps, cleanup, nil
}

// venueSecret resolves a venue API secret from the raw value or an encrypted
// key file.
func venueSecret(v config.VenueConfig) (string, error) {
	return crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           v.ApiSecret,
		EncryptedSecretPath: v.EncryptedSecretPath,
		SecretPassword:      v.SecretPassword,
	})
}

// binanceSymbols merges the configured watchlist, the persisted watchlist,
// and the symbols the strategies trade into the stream subscription set.
func binanceSymbols(ctx context.Context, cfg *config.Config, store domain.WatchlistStore) ([]string, error) {
	seen := make(map[string]struct{})
	for _, s := range cfg.Watchlist[binance.Name] {
		seen[strings.ToUpper(s)] = struct{}{}
	}
	persisted, err := store.List(ctx, binance.Name)
	if err != nil {
		return nil, err
	}
	for _, s := range persisted {
		seen[strings.ToUpper(s)] = struct{}{}
	}
	for _, s := range cfg.Strategies {
		if strings.ToLower(s.Exchange) == binance.Name {
			seen[strings.ToUpper(s.Symbol)] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// No-op store implementations used when Postgres is disabled. Trades then
// live only in process memory and strategy definitions come from the config
// file alone.

type nopTradeStore struct{}

func (nopTradeStore) Insert(context.Context, domain.Trade) error { return nil }
func (nopTradeStore) ListRecent(context.Context, int) ([]domain.Trade, error) {
	return nil, nil
}
func (nopTradeStore) ListClosedBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

type nopStrategyConfigStore struct{}

func (nopStrategyConfigStore) List(context.Context) ([]domain.StrategyDefinition, error) {
	return nil, nil
}
func (nopStrategyConfigStore) Save(context.Context, domain.StrategyDefinition) (int64, error) {
	return 0, nil
}
func (nopStrategyConfigStore) Delete(context.Context, int64) error { return nil }

type nopWatchlistStore struct{}

func (nopWatchlistStore) List(context.Context, string) ([]string, error) { return nil, nil }
func (nopWatchlistStore) Add(context.Context, string, string) error      { return nil }
func (nopWatchlistStore) Remove(context.Context, string, string) error   { return nil }

var (
	_ domain.TradeStore          = nopTradeStore{}
	_ domain.StrategyConfigStore = nopStrategyConfigStore{}
	_ domain.WatchlistStore      = nopWatchlistStore{}
)
