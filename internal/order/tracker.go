// Package order tracks submitted orders until they reach a terminal state by
// polling the venue at a fixed interval.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// ErrExhausted is returned when an order did not reach a terminal state
// within the configured attempt budget.
var ErrExhausted = errors.New("order: tracking attempts exhausted")

// StatusFetcher queries the live state of one order. Connectors satisfy this
// with their GetOrderStatus method.
type StatusFetcher interface {
	GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error)
}

// Tracker polls order status at a fixed interval until the order reaches a
// terminal state.
type Tracker struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewTracker creates a tracker polling every interval, giving up after
// maxAttempts polls.
func NewTracker(fetcher StatusFetcher, interval time.Duration, maxAttempts int, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 150
	}
	return &Tracker{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "order")),
	}
}

// Await blocks until the order reaches a terminal state, the attempt budget
// runs out, or ctx is cancelled. Transient fetch failures, including the
// order not yet being visible, consume an attempt and the poll continues.
// The caller inspects the returned status's state: a terminal state other
// than filled means the order will never fill.
func (t *Tracker) Await(ctx context.Context, contract domain.Contract, orderID string) (domain.OrderStatus, error) {
	logger := t.logger.With(
		slog.String("symbol", contract.Symbol),
		slog.String("order_id", orderID),
	)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var last domain.OrderStatus
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		status, err := t.fetcher.GetOrderStatus(ctx, contract, orderID)
		switch {
		case err == nil:
			last = status
			if status.State.Terminal() {
				logger.Info("order reached terminal state",
					slog.String("state", string(status.State)),
					slog.Float64("avg_price", status.AvgPrice),
				)
				return status, nil
			}
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNoResult):
			logger.Warn("order status unavailable, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		default:
			return last, fmt.Errorf("order: track %s on %s: %w", orderID, contract.Symbol, err)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}

	logger.Error("order tracking gave up", slog.Int("attempts", t.maxAttempts))
	return last, fmt.Errorf("order: track %s on %s after %d attempts: %w", orderID, contract.Symbol, t.maxAttempts, ErrExhausted)
}
