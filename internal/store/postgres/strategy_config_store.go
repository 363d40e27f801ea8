package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// StrategyConfigStore implements domain.StrategyConfigStore using PostgreSQL.
type StrategyConfigStore struct {
	pool *pgxpool.Pool
}

// NewStrategyConfigStore creates a store backed by the given connection pool.
func NewStrategyConfigStore(pool *pgxpool.Pool) *StrategyConfigStore {
	return &StrategyConfigStore{pool: pool}
}

// List returns all persisted strategy definitions, oldest first.
func (s *StrategyConfigStore) List(ctx context.Context) ([]domain.StrategyDefinition, error) {
	const query = `
		SELECT id, exchange, symbol, timeframe, variant, balance_pct, take_profit, stop_loss, params
		FROM strategy_configs ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy configs: %w", err)
	}
	defer rows.Close()

	var defs []domain.StrategyDefinition
	for rows.Next() {
		var def domain.StrategyDefinition
		var timeframe string
		var paramsJSON []byte

		if err := rows.Scan(&def.ID, &def.Exchange, &def.Symbol, &timeframe, &def.Variant,
			&def.BalancePct, &def.TakeProfit, &def.StopLoss, &paramsJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy config: %w", err)
		}
		def.Timeframe = domain.Timeframe(timeframe)

		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &def.Params); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal strategy params %d: %w", def.ID, err)
			}
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategy configs rows: %w", err)
	}
	return defs, nil
}

// Save upserts a strategy definition, keyed by its venue, symbol, timeframe,
// and variant, and returns the row id.
func (s *StrategyConfigStore) Save(ctx context.Context, def domain.StrategyDefinition) (int64, error) {
	params := def.Params
	if params == nil {
		params = map[string]float64{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal strategy params: %w", err)
	}

	const query = `
		INSERT INTO strategy_configs (exchange, symbol, timeframe, variant, balance_pct, take_profit, stop_loss, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exchange, symbol, timeframe, variant) DO UPDATE SET
			balance_pct = EXCLUDED.balance_pct,
			take_profit = EXCLUDED.take_profit,
			stop_loss   = EXCLUDED.stop_loss,
			params      = EXCLUDED.params
		RETURNING id`

	var id int64
	err = s.pool.QueryRow(ctx, query,
		def.Exchange, def.Symbol, string(def.Timeframe), def.Variant,
		def.BalancePct, def.TakeProfit, def.StopLoss, paramsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save strategy config: %w", err)
	}
	return id, nil
}

// Delete removes a strategy definition by id. Deleting a missing id returns
// domain.ErrNotFound.
func (s *StrategyConfigStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategy_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy config %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.StrategyConfigStore = (*StrategyConfigStore)(nil)
