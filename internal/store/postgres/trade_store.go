package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Only the
// contract's identity is persisted; the full contract is re-resolved from
// the venue on load.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a store backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeColumns = `id, strategy, exchange, symbol, side, status, entry_order_id,
	entry_price, quantity, pnl, exit_order_id, opened_at, closed_at`

// Insert journals one trade.
func (s *TradeStore) Insert(ctx context.Context, trade domain.Trade) error {
	const query = `
		INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		trade.ID, trade.Strategy, trade.Contract.Exchange, trade.Contract.Symbol,
		string(trade.Side), string(trade.Status), trade.EntryOrderID,
		trade.EntryPrice, trade.Quantity, trade.PnL, trade.ExitOrderID,
		trade.OpenedAt, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// ListRecent returns the newest trades, most recently opened first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + tradeColumns + ` FROM trades ORDER BY opened_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListClosedBefore returns trades closed at or before the given time, used
// by the archiver to select journal entries ready for cold storage.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	const query = `SELECT ` + tradeColumns + `
		FROM trades WHERE closed_at IS NOT NULL AND closed_at <= $1 ORDER BY closed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

type tradeRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows tradeRows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		var side, status string

		if err := rows.Scan(&trade.ID, &trade.Strategy, &trade.Contract.Exchange,
			&trade.Contract.Symbol, &side, &status, &trade.EntryOrderID,
			&trade.EntryPrice, &trade.Quantity, &trade.PnL, &trade.ExitOrderID,
			&trade.OpenedAt, &trade.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trade.Side = domain.PositionSide(side)
		trade.Status = domain.TradeStatus(status)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
