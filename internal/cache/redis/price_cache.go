package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Quotes for one
// venue live in a hash at key "quotes:{exchange}" with one JSON field per
// symbol, so the UI can read a whole venue in a single call.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func quotesKey(exchange string) string {
	return "quotes:" + exchange
}

// SetQuotes writes a batch of quotes, grouped per venue, in one pipeline.
func (pc *PriceCache) SetQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	byExchange := make(map[string]map[string]interface{})
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("redis: marshal quote %s/%s: %w", q.Exchange, q.Symbol, err)
		}
		fields, ok := byExchange[q.Exchange]
		if !ok {
			fields = make(map[string]interface{})
			byExchange[q.Exchange] = fields
		}
		fields[q.Symbol] = data
	}

	pipe := pc.rdb.TxPipeline()
	for exchange, fields := range byExchange {
		pipe.HSet(ctx, quotesKey(exchange), fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuote retrieves the latest quote for one symbol. It returns
// domain.ErrNotFound when the symbol has never been quoted.
func (pc *PriceCache) GetQuote(ctx context.Context, exchange, symbol string) (domain.Quote, error) {
	data, err := pc.rdb.HGet(ctx, quotesKey(exchange), symbol).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Quote{}, domain.ErrNotFound
		}
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", exchange, symbol, err)
	}

	var quote domain.Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: unmarshal quote %s/%s: %w", exchange, symbol, err)
	}
	return quote, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
