package strategy

// ema computes the exponential moving average series of values with the
// given period. The first period values seed a simple average; the series
// starts at index period-1 and is returned aligned to the input (earlier
// slots are zero).
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	var sum float64
	for _, v := range values[:period] {
		sum += v
	}
	out[period-1] = sum / float64(period)

	alpha := 2.0 / (float64(period) + 1)
	for i := period; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi computes the Wilder relative strength index of closes with the given
// period, returning the final value. The seed is the simple average of the
// first period gains and losses; later values use recursive smoothing.
// Returns ok=false when there is not enough history.
func rsi(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// macd computes the MACD line (fast EMA minus slow EMA) and its signal line
// (EMA of the MACD line), returning the final values of each. Returns
// ok=false when there is not enough history for both lines.
func macd(closes []float64, fast, slow, signal int) (line, signalLine float64, ok bool) {
	if fast <= 0 || slow <= fast || signal <= 0 {
		return 0, 0, false
	}
	if len(closes) < slow+signal {
		return 0, 0, false
	}

	fastEMA := ema(closes, fast)
	slowEMA := ema(closes, slow)

	// The MACD line is defined from the first index the slow EMA exists.
	macdLine := make([]float64, len(closes)-slow+1)
	for i := range macdLine {
		idx := slow - 1 + i
		macdLine[i] = fastEMA[idx] - slowEMA[idx]
	}

	signalEMA := ema(macdLine, signal)
	return macdLine[len(macdLine)-1], signalEMA[len(signalEMA)-1], true
}

func highest(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func lowest(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
