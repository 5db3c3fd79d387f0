package indicator

import "errors"

// MACD holds the MACD line, signal line and histogram as index-aligned
// series. Line[i] corresponds to candle index i+LineOffset; Signal[i] and
// Hist[i] correspond to candle index i+SignalOffset. The offsets reflect
// the warm-up of the underlying EMAs: the line starts once the slow EMA is
// warmed up, the signal once its own EMA over the line is warmed up too.
type MACD struct {
	Line         []float64
	Signal       []float64
	Hist         []float64
	LineOffset   int
	SignalOffset int
}

// MACDSeries computes EMA(fast) - EMA(slow) with an EMA(signalPeriod)
// signal line. It errors when there are not enough closes for a single
// line value; Signal and Hist may still be empty when the line is too
// short for the signal warm-up.
func MACDSeries(closes []float64, fast, slow, signalPeriod int) (MACD, error) {
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 {
		return MACD{}, errors.New("periods must be > 0")
	}
	if fast >= slow {
		return MACD{}, errors.New("fast period must be < slow period")
	}
	if len(closes) < slow {
		return MACD{}, ErrInsufficientData
	}
	fastSeries, err := EMASeries(closes, fast)
	if err != nil {
		return MACD{}, err
	}
	slowSeries, err := EMASeries(closes, slow)
	if err != nil {
		return MACD{}, err
	}
	lineOffset := slow - 1
	line := make([]float64, len(closes)-lineOffset)
	for i := range line {
		line[i] = fastSeries[lineOffset+i] - slowSeries[lineOffset+i]
	}
	out := MACD{
		Line:         line,
		LineOffset:   lineOffset,
		SignalOffset: lineOffset + signalPeriod - 1,
	}
	if len(line) < signalPeriod {
		return out, nil
	}
	sigSeries, err := EMASeries(line, signalPeriod)
	if err != nil {
		return out, err
	}
	out.Signal = sigSeries[signalPeriod-1:]
	out.Hist = make([]float64, len(out.Signal))
	for i := range out.Signal {
		out.Hist[i] = line[signalPeriod-1+i] - out.Signal[i]
	}
	return out, nil
}
