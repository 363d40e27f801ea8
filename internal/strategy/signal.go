package strategy

import (
	"fmt"
	"math"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// Signal is a trade direction produced by evaluating the candle series.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	default:
		return "none"
	}
}

// macdSeparationTol is the minimum relative separation between the MACD line
// and its signal line before the MACD counts as bullish or bearish.
const macdSeparationTol = 1e-9

// Variant identifiers accepted in strategy definitions.
const (
	VariantTechnical = "technical"
	VariantBreakout  = "breakout"
)

// Signaler evaluates a candle series, oldest first with the still-open
// candle last, and produces a direction. Implementations are pure over their
// input.
type Signaler interface {
	Name() string
	Evaluate(candles []domain.Candle) Signal
	// EvaluatesEveryTick reports whether entries are taken on intra-candle
	// updates too, or only when a candle closes.
	EvaluatesEveryTick() bool
}

// NewSignaler builds the signaler for a strategy definition's variant.
func NewSignaler(def domain.StrategyDefinition) (Signaler, error) {
	switch def.Variant {
	case VariantTechnical:
		return newTechnical(def.Params), nil
	case VariantBreakout:
		return newBreakout(def.Params), nil
	default:
		return nil, fmt.Errorf("strategy: unknown variant %q", def.Variant)
	}
}

func param(params map[string]float64, key string, fallback float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return fallback
}

// technical requires an oversold RSI with a bullish MACD for a long, and an
// overbought RSI with a bearish MACD for a short. Both indicators are
// computed over the closed candles only, dropping the still-open one, and
// read at the most recent closed candle.
type technical struct {
	rsiLength int
	rsiLower  float64
	rsiUpper  float64
	emaFast   int
	emaSlow   int
	emaSignal int
}

func newTechnical(params map[string]float64) *technical {
	return &technical{
		rsiLength: int(param(params, "rsi_length", 14)),
		rsiLower:  param(params, "rsi_lower", 30),
		rsiUpper:  param(params, "rsi_upper", 70),
		emaFast:   int(param(params, "ema_fast", 12)),
		emaSlow:   int(param(params, "ema_slow", 26)),
		emaSignal: int(param(params, "ema_signal", 9)),
	}
}

func (t *technical) Name() string { return VariantTechnical }

func (t *technical) EvaluatesEveryTick() bool { return false }

func (t *technical) Evaluate(candles []domain.Candle) Signal {
	if len(candles) < 2 {
		return SignalNone
	}
	closes := make([]float64, 0, len(candles)-1)
	for _, c := range candles[:len(candles)-1] {
		closes = append(closes, c.Close)
	}

	rsiValue, ok := rsi(closes, t.rsiLength)
	if !ok {
		return SignalNone
	}
	macdLine, signalLine, ok := macd(closes, t.emaFast, t.emaSlow, t.emaSignal)
	if !ok {
		return SignalNone
	}

	// On a long steady trend the MACD and signal EMAs converge to the same
	// value and the raw difference is float rounding noise. Require a
	// separation above tolerance before calling the MACD bullish or bearish.
	sep := macdLine - signalLine
	tol := macdSeparationTol * math.Max(1, math.Abs(macdLine))
	switch {
	case rsiValue < t.rsiLower && sep > tol:
		return SignalLong
	case rsiValue > t.rsiUpper && sep < -tol:
		return SignalShort
	default:
		return SignalNone
	}
}

// breakout enters when the live price moves outside the high/low channel of
// the preceding closed candles, optionally requiring a minimum volume on the
// forming candle. It is evaluated on every tick, not only at candle closes,
// so a breakout inside the current interval is not missed.
type breakout struct {
	lookback  int
	minVolume float64
}

func newBreakout(params map[string]float64) *breakout {
	return &breakout{
		lookback:  int(param(params, "lookback", 1)),
		minVolume: params["min_volume"],
	}
}

func (b *breakout) Name() string { return VariantBreakout }

func (b *breakout) EvaluatesEveryTick() bool { return true }

func (b *breakout) Evaluate(candles []domain.Candle) Signal {
	// Need the lookback channel candles plus the forming one.
	if len(candles) < b.lookback+1 {
		return SignalNone
	}
	last := candles[len(candles)-1]
	if last.Volume < b.minVolume {
		return SignalNone
	}

	channel := candles[len(candles)-1-b.lookback : len(candles)-1]
	highs := make([]float64, len(channel))
	lows := make([]float64, len(channel))
	for i, c := range channel {
		highs[i] = c.High
		lows[i] = c.Low
	}

	switch {
	case last.Close > highest(highs):
		return SignalLong
	case last.Close < lowest(lows):
		return SignalShort
	default:
		return SignalNone
	}
}
