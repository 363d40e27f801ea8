// Package candle builds fixed-interval OHLCV candles from a live trade-tick
// stream, seeded from venue history and gap-filled across quiet intervals.
package candle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// feedLagWarnThreshold is how far behind wall clock a tick may run before
// the aggregator warns about feed lag.
const feedLagWarnThreshold = 2 * time.Second

// TickKind classifies what a tick did to the candle series.
type TickKind int

const (
	// TickSameCandle means the tick extended the current candle.
	TickSameCandle TickKind = iota
	// TickNewCandle means the tick closed the current candle and opened a
	// new one, possibly synthesizing flat candles across a gap.
	TickNewCandle
	// TickStale means the tick predates the current candle and was dropped.
	TickStale
)

// Update is the outcome of feeding one tick to the aggregator. Closed holds
// the candles finalized by this tick, oldest first: the previously open
// candle plus any flat gap candles.
type Update struct {
	Kind   TickKind
	Closed []domain.Candle
}

// Aggregator maintains the candle series for one symbol and timeframe. Safe
// for concurrent use; Apply is intended to be called from the tick feed and
// History from strategy evaluation.
type Aggregator struct {
	symbol    string
	timeframe domain.Timeframe
	limit     int
	logger    *slog.Logger

	// now is replaceable for feed-lag tests.
	now func() time.Time

	mu      sync.Mutex
	candles []domain.Candle
}

// NewAggregator creates an aggregator retaining at most limit candles.
func NewAggregator(symbol string, tf domain.Timeframe, limit int, logger *slog.Logger) *Aggregator {
	if limit <= 0 {
		limit = 500
	}
	return &Aggregator{
		symbol:    symbol,
		timeframe: tf,
		limit:     limit,
		logger: logger.With(
			slog.String("component", "candle"),
			slog.String("symbol", symbol),
			slog.String("timeframe", string(tf)),
		),
		now: time.Now,
	}
}

// Seed replaces the series with historical candles, oldest first. The last
// seeded candle becomes the open candle that subsequent ticks extend.
func (a *Aggregator) Seed(candles []domain.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candles = a.candles[:0]
	a.candles = append(a.candles, candles...)
	a.trimLocked()
}

// Apply folds one tick into the series.
func (a *Aggregator) Apply(tick domain.Tick) Update {
	a.warnIfLagging(tick)

	a.mu.Lock()
	defer a.mu.Unlock()

	tfMs := a.timeframe.Millis()

	if len(a.candles) == 0 {
		a.candles = append(a.candles, newCandle(a.timeframe, alignMs(tick.Timestamp, tfMs), tick))
		return Update{Kind: TickNewCandle}
	}

	last := &a.candles[len(a.candles)-1]
	switch {
	case tick.Timestamp < last.OpenTime:
		return Update{Kind: TickStale}

	case tick.Timestamp < last.OpenTime+tfMs:
		if tick.Price > last.High {
			last.High = tick.Price
		}
		if tick.Price < last.Low {
			last.Low = tick.Price
		}
		last.Close = tick.Price
		last.Volume += tick.Size
		return Update{Kind: TickSameCandle}
	}

	// The tick belongs to a later interval: close the open candle, fill any
	// quiet intervals with flat candles at the tick's price, then open the
	// tick's own candle. Each fill chains one timeframe after the previous
	// candle so boundaries stay contiguous however long the gap.
	closed := []domain.Candle{*last}
	gaps := int((tick.Timestamp-last.OpenTime)/tfMs) - 1
	base := last.OpenTime
	for i := 1; i <= gaps; i++ {
		flat := domain.Candle{
			Timeframe: a.timeframe,
			OpenTime:  base + int64(i)*tfMs,
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
			Volume:    tick.Size,
			Source:    domain.CandleAggregated,
		}
		a.candles = append(a.candles, flat)
		closed = append(closed, flat)
	}

	a.candles = append(a.candles, newCandle(a.timeframe, alignMs(tick.Timestamp, tfMs), tick))
	a.trimLocked()
	return Update{Kind: TickNewCandle, Closed: closed}
}

// History returns a copy of the series, oldest first. The final element is
// the still-open candle.
func (a *Aggregator) History() []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Candle, len(a.candles))
	copy(out, a.candles)
	return out
}

// Len returns the number of candles held, including the open one.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.candles)
}

func (a *Aggregator) warnIfLagging(tick domain.Tick) {
	lag := a.now().UnixMilli() - tick.Timestamp
	if lag >= feedLagWarnThreshold.Milliseconds() {
		a.logger.Warn("trade feed lagging",
			slog.Int64("lag_ms", lag),
			slog.Float64("price", tick.Price),
		)
	}
}

func (a *Aggregator) trimLocked() {
	if excess := len(a.candles) - a.limit; excess > 0 {
		a.candles = append(a.candles[:0], a.candles[excess:]...)
	}
}

func newCandle(tf domain.Timeframe, openTime int64, tick domain.Tick) domain.Candle {
	return domain.Candle{
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Size,
		Source:    domain.CandleAggregated,
	}
}

func alignMs(ts, tfMs int64) int64 {
	return ts - ts%tfMs
}
