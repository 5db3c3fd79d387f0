package strategy

import (
	"math"
	"sort"

	"spot-trend-bot/internal/indicator"
	"spot-trend-bot/internal/market"
)

type bias int

const (
	biasNeutral bias = iota
	biasBullish
	biasBearish
)

func (b bias) String() string {
	switch b {
	case biasBullish:
		return "BULLISH"
	case biasBearish:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

// EvaluateMTF is the multi-timeframe MACD evaluator. Three gates run in
// sequence over three timeframes: bias on the slow one, the crossover
// trigger on the medium one, histogram confirmation on the fast one.
// The first failed gate aborts to HOLD; all three passing yields a
// BUY or SELL with the configured confidence score.
func EvaluateMTF(symbol string, biasCandles, triggerCandles, confirmCandles []market.Candle, p Params) Decision {
	biasMACD, err := indicator.MACDSeries(market.Closes(biasCandles), p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return holdOnIndicatorError(symbol, "bias macd", err)
	}
	dir, separation, reason := evaluateBias(&biasMACD, p.BiasSeparationPct)
	if dir == biasNeutral {
		return hold(symbol, reason, MTFSnapshot{Bias: dir.String(), BiasSeparation: separation})
	}

	triggerMACD, err := indicator.MACDSeries(market.Closes(triggerCandles), p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return holdOnIndicatorError(symbol, "trigger macd", err)
	}
	cross, ok, reason := findTrigger(&triggerMACD, dir, p.CrossoverLookback, p.StrengthWindow)
	snap := MTFSnapshot{Bias: dir.String(), BiasSeparation: separation}
	if !ok {
		return hold(symbol, reason, snap)
	}
	snap.TriggerMACD = cross.value
	snap.TriggerAgeBars = cross.ageBars

	confirmMACD, err := indicator.MACDSeries(market.Closes(confirmCandles), p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return holdOnIndicatorError(symbol, "confirm macd", err)
	}
	bars, ok, reason := confirmMomentum(&confirmMACD, dir)
	snap.ConfirmHist = bars
	if !ok {
		return hold(symbol, reason, snap)
	}

	signal := SignalBuy
	reason = "bullish confluence across timeframes"
	if dir == biasBearish {
		signal = SignalSell
		reason = "bearish confluence across timeframes"
	}
	return Decision{Symbol: symbol, Signal: signal, Score: p.Confidence, Reason: reason, Snapshot: snap}
}

// evaluateBias classifies the slow timeframe. The line and signal must
// agree on a side of zero and be separated by more than separationPct
// percent of the MACD value range over the whole series.
func evaluateBias(m *indicator.MACD, separationPct float64) (bias, float64, string) {
	if len(m.Signal) == 0 {
		return biasNeutral, 0, "bias: macd signal not warmed up"
	}
	line := m.Line[len(m.Line)-1]
	signal := m.Signal[len(m.Signal)-1]

	lo, hi := m.Line[0], m.Line[0]
	for _, v := range m.Line {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	valueRange := hi - lo
	if valueRange == 0 {
		return biasNeutral, 0, "bias: flat macd series"
	}
	minSeparation := valueRange * separationPct / 100
	separation := math.Abs(line - signal)

	switch {
	case line > signal && signal > 0 && separation > minSeparation:
		return biasBullish, separation, ""
	case line < signal && signal < 0 && separation > minSeparation:
		return biasBearish, separation, ""
	default:
		return biasNeutral, separation, "bias: neutral"
	}
}

type crossover struct {
	index   int
	ageBars int
	value   float64
}

// findTrigger scans the medium timeframe backward, at most lookback
// bars, for the most recent line/signal crossover. Its direction must
// match the bias and its MACD value must sit in the extreme quartile of
// the trailing strength window ending at the crossover.
func findTrigger(m *indicator.MACD, dir bias, lookback, strengthWindow int) (crossover, bool, string) {
	if len(m.Signal) < 2 {
		return crossover{}, false, "trigger: macd signal not warmed up"
	}
	n := len(m.Signal)
	start := n - 1 - lookback
	if start < 1 {
		start = 1
	}
	// Line and Signal share indices from SignalOffset onward.
	lineAt := func(i int) float64 {
		return m.Line[len(m.Line)-n+i]
	}
	for i := n - 1; i >= start; i-- {
		prev := lineAt(i-1) - m.Signal[i-1]
		cur := lineAt(i) - m.Signal[i]
		var crossDir bias
		switch {
		case prev <= 0 && cur > 0:
			crossDir = biasBullish
		case prev >= 0 && cur < 0:
			crossDir = biasBearish
		default:
			continue
		}
		if crossDir != dir {
			return crossover{}, false, "trigger: crossover direction mismatch"
		}
		value := lineAt(i)
		lineIdx := len(m.Line) - n + i
		if !strongEnough(m.Line, lineIdx, strengthWindow, dir, value) {
			return crossover{}, false, "trigger: weak crossover strength"
		}
		return crossover{index: i, ageBars: n - 1 - i, value: value}, true, ""
	}
	return crossover{}, false, "trigger: no crossover within lookback"
}

// strongEnough requires the crossover MACD value to be at or beyond the
// p75 (bullish) or p25 (bearish) of the trailing window of line values.
// Fewer than 4 samples cannot form meaningful quartiles, so a short
// window passes rather than vetoing an otherwise valid trigger.
func strongEnough(line []float64, idx, window int, dir bias, value float64) bool {
	start := idx - window + 1
	if start < 0 {
		start = 0
	}
	sample := line[start : idx+1]
	if len(sample) < 4 {
		return true
	}
	if dir == biasBullish {
		return value >= percentile(sample, 75)
	}
	return value <= percentile(sample, 25)
}

func percentile(values []float64, pct float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := pct / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// confirmMomentum checks the last three histogram bars on the fast
// timeframe: uniformly signed in the trigger direction with at least
// one strictly expanding consecutive pair.
func confirmMomentum(m *indicator.MACD, dir bias) ([3]float64, bool, string) {
	var bars [3]float64
	if len(m.Hist) < 3 {
		return bars, false, "confirm: histogram not warmed up"
	}
	copy(bars[:], m.Hist[len(m.Hist)-3:])
	for _, h := range bars {
		if dir == biasBullish && h <= 0 {
			return bars, false, "confirm: histogram not uniformly positive"
		}
		if dir == biasBearish && h >= 0 {
			return bars, false, "confirm: histogram not uniformly negative"
		}
	}
	expanding := math.Abs(bars[1]) > math.Abs(bars[0]) || math.Abs(bars[2]) > math.Abs(bars[1])
	if !expanding {
		return bars, false, "confirm: histogram momentum not expanding"
	}
	return bars, true, ""
}
