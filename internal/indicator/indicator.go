// Package indicator provides pure technical-analysis functions over
// close-price series. Functions return ErrInsufficientData instead of a
// sentinel value when the series is shorter than the requested period.
package indicator

import (
	"errors"
	"math"
)

var ErrInsufficientData = errors.New("insufficient data")

// SMA returns the mean of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be > 0")
	}
	if len(closes) < period {
		return 0, ErrInsufficientData
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// EMA returns the last value of the recursive exponential average.
// The series is seeded with the first close, k = 2/(period+1).
func EMA(closes []float64, period int) (float64, error) {
	series, err := EMASeries(closes, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the full recursive EMA series, one value per close.
// Values before index period-1 are warm-up and should not be consumed by
// series-level indicators.
func EMASeries(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be > 0")
	}
	if len(closes) < period {
		return nil, ErrInsufficientData
	}
	k := 2.0 / float64(period+1)
	series := make([]float64, len(closes))
	series[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		series[i] = closes[i]*k + series[i-1]*(1-k)
	}
	return series, nil
}

// RSI computes the Relative Strength Index using Wilder's smoothing:
// the first period deltas seed the average gain/loss, the remainder are
// folded in incrementally. A zero average loss yields 100 by convention.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be > 0")
	}
	if len(closes) < period+1 {
		return 0, ErrInsufficientData
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
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// CCI computes the Commodity Channel Index over typical prices
// (high+low+close)/3. A zero mean deviation yields 0 by convention.
func CCI(highs, lows, closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be > 0")
	}
	if len(highs) < period || len(lows) < period || len(closes) < period {
		return 0, ErrInsufficientData
	}
	typical := make([]float64, period)
	offset := len(closes) - period
	var sum float64
	for i := 0; i < period; i++ {
		typical[i] = (highs[offset+i] + lows[offset+i] + closes[offset+i]) / 3
		sum += typical[i]
	}
	mean := sum / float64(period)
	var dev float64
	for _, tp := range typical {
		dev += math.Abs(tp - mean)
	}
	dev /= float64(period)
	if dev == 0 {
		return 0, nil
	}
	return (typical[period-1] - mean) / (0.015 * dev), nil
}
