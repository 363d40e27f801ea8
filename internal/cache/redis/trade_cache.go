package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// TradeCache implements domain.TradeCache. Each strategy's current trade
// list is stored as one JSON document at key "trades:{strategy}", replaced
// wholesale on every snapshot.
type TradeCache struct {
	rdb *redis.Client
}

// NewTradeCache creates a TradeCache backed by the given Client.
func NewTradeCache(c *Client) *TradeCache {
	return &TradeCache{rdb: c.Underlying()}
}

func tradesKey(strategy string) string {
	return "trades:" + strategy
}

// SetTrades replaces the strategy's trade list. An empty list clears the key
// so the UI stops showing stale positions.
func (tc *TradeCache) SetTrades(ctx context.Context, strategy string, trades []domain.Trade) error {
	key := tradesKey(strategy)
	if len(trades) == 0 {
		if err := tc.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis: clear trades %s: %w", strategy, err)
		}
		return nil
	}

	data, err := json.Marshal(trades)
	if err != nil {
		return fmt.Errorf("redis: marshal trades %s: %w", strategy, err)
	}
	if err := tc.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set trades %s: %w", strategy, err)
	}
	return nil
}

// GetTrades returns the strategy's current trade list. A missing key means
// no open trades and returns an empty slice, not an error.
func (tc *TradeCache) GetTrades(ctx context.Context, strategy string) ([]domain.Trade, error) {
	data, err := tc.rdb.Get(ctx, tradesKey(strategy)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get trades %s: %w", strategy, err)
	}

	var trades []domain.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("redis: unmarshal trades %s: %w", strategy, err)
	}
	return trades, nil
}

var _ domain.TradeCache = (*TradeCache)(nil)
