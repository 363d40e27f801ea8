package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// WatchlistStore implements domain.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a store backed by the given connection pool.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// List returns the symbols watched on one venue, alphabetically.
func (s *WatchlistStore) List(ctx context.Context, exchange string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol FROM watchlist WHERE exchange = $1 ORDER BY symbol`, exchange)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist %s: %w", exchange, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("postgres: scan watchlist symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watchlist rows: %w", err)
	}
	return symbols, nil
}

// Add inserts a symbol into a venue's watchlist. Re-adding is a no-op.
func (s *WatchlistStore) Add(ctx context.Context, exchange, symbol string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (exchange, symbol) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		exchange, symbol)
	if err != nil {
		return fmt.Errorf("postgres: add watchlist %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// Remove deletes a symbol from a venue's watchlist. Removing a missing
// symbol returns domain.ErrNotFound.
func (s *WatchlistStore) Remove(ctx context.Context, exchange, symbol string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE exchange = $1 AND symbol = $2`, exchange, symbol)
	if err != nil {
		return fmt.Errorf("postgres: remove watchlist %s/%s: %w", exchange, symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.WatchlistStore = (*WatchlistStore)(nil)
