// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEBOT_* environment
// variables.
type Config struct {
	Bitmex     VenueConfig         `toml:"bitmex"`
	Binance    VenueConfig         `toml:"binance"`
	Redis      RedisConfig         `toml:"redis"`
	Postgres   PostgresConfig      `toml:"postgres"`
	S3         S3Config            `toml:"s3"`
	Engine     EngineConfig        `toml:"engine"`
	Strategies []StrategyConfig    `toml:"strategy"`
	Watchlist  map[string][]string `toml:"watchlist"`
	LogLevel   string              `toml:"log_level"`
}

// VenueConfig holds credentials and endpoints for one exchange.
type VenueConfig struct {
	Enabled             bool   `toml:"enabled"`
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	Testnet             bool   `toml:"testnet"`
	// BaseURL / WsURL override the venue defaults; mainly for tests.
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
}

// RedisConfig holds Redis connection parameters for the UI snapshot surface.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds connection parameters for the persisted strategy
// configuration, watchlist, and trade journal stores.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// S3Config holds the object-storage parameters for candle/trade archival.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
}

// EngineConfig holds timing knobs shared by all strategy instances.
type EngineConfig struct {
	// OrderPollInterval is the fixed delay between order-status polls while
	// awaiting a fill. No backoff growth.
	OrderPollInterval duration `toml:"order_poll_interval"`
	// OrderPollMaxAttempts bounds polling so shutdown never leaves orphaned
	// pollers behind.
	OrderPollMaxAttempts int `toml:"order_poll_max_attempts"`
	// SnapshotInterval is how often the UI surface (prices, trades, events)
	// is refreshed in Redis.
	SnapshotInterval duration `toml:"snapshot_interval"`
	// CandleHistoryLimit caps the historical candle seed per strategy.
	CandleHistoryLimit int `toml:"candle_history_limit"`
}

// StrategyConfig defines one strategy instance.
type StrategyConfig struct {
	Exchange   string             `toml:"exchange"`
	Symbol     string             `toml:"symbol"`
	Timeframe  string             `toml:"timeframe"`
	Variant    string             `toml:"variant"`
	BalancePct float64            `toml:"balance_pct"`
	TakeProfit float64            `toml:"take_profit"`
	StopLoss   float64            `toml:"stop_loss"`
	Params     map[string]float64 `toml:"params"`
}

// Definition converts the TOML record into the domain form shared with the
// persisted store.
func (s StrategyConfig) Definition() domain.StrategyDefinition {
	return domain.StrategyDefinition{
		Exchange:   strings.ToLower(s.Exchange),
		Symbol:     s.Symbol,
		Timeframe:  domain.Timeframe(s.Timeframe),
		Variant:    strings.ToLower(s.Variant),
		BalancePct: s.BalancePct,
		TakeProfit: s.TakeProfit,
		StopLoss:   s.StopLoss,
		Params:     s.Params,
	}
}

// duration wraps time.Duration for TOML decoding of strings like "2s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config with sensible defaults applied. Load merges the
// TOML file on top of these.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			SSLMode:      "prefer",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		S3: S3Config{
			Region:   "us-east-1",
			Interval: duration{time.Hour},
		},
		Engine: EngineConfig{
			OrderPollInterval:    duration{2 * time.Second},
			OrderPollMaxAttempts: 150,
			SnapshotInterval:     duration{time.Second},
			CandleHistoryLimit:   500,
		},
	}
}

// Validate checks the configuration for internal consistency. It is called
// after Load and before wiring.
func (c *Config) Validate() error {
	if !c.Bitmex.Enabled && !c.Binance.Enabled {
		return fmt.Errorf("config: at least one venue must be enabled")
	}
	if err := c.Bitmex.validate("bitmex"); err != nil {
		return err
	}
	if err := c.Binance.validate("binance"); err != nil {
		return err
	}
	if c.Engine.OrderPollInterval.Duration <= 0 {
		return fmt.Errorf("config: engine.order_poll_interval must be positive")
	}
	if c.Engine.OrderPollMaxAttempts <= 0 {
		return fmt.Errorf("config: engine.order_poll_max_attempts must be positive")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("config: s3.bucket is required when s3 is enabled")
	}

	seen := make(map[string]struct{}, len(c.Strategies))
	for i, s := range c.Strategies {
		if err := s.validate(i); err != nil {
			return err
		}
		key := strings.ToLower(s.Exchange) + "/" + s.Symbol + "/" + s.Timeframe + "/" + strings.ToLower(s.Variant)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("config: duplicate strategy %s", key)
		}
		seen[key] = struct{}{}

		venue := strings.ToLower(s.Exchange)
		if (venue == "bitmex" && !c.Bitmex.Enabled) || (venue == "binance" && !c.Binance.Enabled) {
			return fmt.Errorf("config: strategy %d targets disabled venue %q", i, s.Exchange)
		}
	}
	return nil
}

func (v VenueConfig) validate(name string) error {
	if !v.Enabled {
		return nil
	}
	if v.ApiKey == "" {
		return fmt.Errorf("config: %s.api_key is required", name)
	}
	if v.ApiSecret == "" && v.EncryptedSecretPath == "" {
		return fmt.Errorf("config: %s needs api_secret or encrypted_secret_path", name)
	}
	return nil
}

func (s StrategyConfig) validate(i int) error {
	switch strings.ToLower(s.Exchange) {
	case "bitmex", "binance":
	default:
		return fmt.Errorf("config: strategy %d: unknown exchange %q", i, s.Exchange)
	}
	if s.Symbol == "" {
		return fmt.Errorf("config: strategy %d: symbol is required", i)
	}
	if _, err := domain.ParseTimeframe(s.Timeframe); err != nil {
		return fmt.Errorf("config: strategy %d: %w", i, err)
	}
	switch strings.ToLower(s.Variant) {
	case "technical", "breakout":
	default:
		return fmt.Errorf("config: strategy %d: unknown variant %q", i, s.Variant)
	}
	if s.BalancePct <= 0 || s.BalancePct > 100 {
		return fmt.Errorf("config: strategy %d: balance_pct must be in (0, 100]", i)
	}
	if s.TakeProfit < 0 || s.StopLoss < 0 {
		return fmt.Errorf("config: strategy %d: take_profit and stop_loss must be non-negative", i)
	}
	return nil
}
