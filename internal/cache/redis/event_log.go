package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// maxEventsPerStrategy bounds each strategy's event list.
const maxEventsPerStrategy = 1000

// EventLog implements domain.EventLog using a Redis list per strategy plus a
// displayed-cursor key.
//
// Key schema:
//
//	events:{strategy}        - list of JSON entries, oldest first
//	events:{strategy}:cursor - count of entries already displayed
type EventLog struct {
	rdb *redis.Client
}

// NewEventLog creates an EventLog backed by the given Client.
func NewEventLog(c *Client) *EventLog {
	return &EventLog{rdb: c.Underlying()}
}

func eventsKey(strategy string) string       { return "events:" + strategy }
func eventsCursorKey(strategy string) string { return "events:" + strategy + ":cursor" }

// Append adds one entry to the strategy's event list, trimming the oldest
// entries beyond the retention bound. Trimming also rewinds the displayed
// cursor so pending entries are never skipped.
func (el *EventLog) Append(ctx context.Context, entry domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	key := eventsKey(entry.Strategy)
	length, err := el.rdb.RPush(ctx, key, data).Result()
	if err != nil {
		return fmt.Errorf("redis: append event %s: %w", entry.Strategy, err)
	}

	if excess := length - maxEventsPerStrategy; excess > 0 {
		pipe := el.rdb.TxPipeline()
		pipe.LTrim(ctx, key, excess, -1)
		pipe.DecrBy(ctx, eventsCursorKey(entry.Strategy), excess)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis: trim events %s: %w", entry.Strategy, err)
		}
	}
	return nil
}

// Pending returns the entries appended since the last MarkDisplayed call,
// oldest first.
func (el *EventLog) Pending(ctx context.Context, strategy string) ([]domain.LogEntry, error) {
	cursor, err := el.cursor(ctx, strategy)
	if err != nil {
		return nil, err
	}

	raw, err := el.rdb.LRange(ctx, eventsKey(strategy), cursor, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: pending events %s: %w", strategy, err)
	}

	entries := make([]domain.LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("redis: unmarshal event %s: %w", strategy, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MarkDisplayed advances the displayed cursor to the current end of the
// list. Entries appended afterwards become the next Pending batch.
func (el *EventLog) MarkDisplayed(ctx context.Context, strategy string) error {
	length, err := el.rdb.LLen(ctx, eventsKey(strategy)).Result()
	if err != nil {
		return fmt.Errorf("redis: events length %s: %w", strategy, err)
	}
	if err := el.rdb.Set(ctx, eventsCursorKey(strategy), length, 0).Err(); err != nil {
		return fmt.Errorf("redis: mark displayed %s: %w", strategy, err)
	}
	return nil
}

func (el *EventLog) cursor(ctx context.Context, strategy string) (int64, error) {
	val, err := el.rdb.Get(ctx, eventsCursorKey(strategy)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: events cursor %s: %w", strategy, err)
	}
	cursor, err := strconv.ParseInt(val, 10, 64)
	if err != nil || cursor < 0 {
		return 0, nil
	}
	return cursor, nil
}

var _ domain.EventLog = (*EventLog)(nil)
