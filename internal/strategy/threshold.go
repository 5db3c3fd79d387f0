package strategy

import (
	"errors"
	"fmt"

	"spot-trend-bot/internal/indicator"
	"spot-trend-bot/internal/market"
)

// EvaluateThreshold is the threshold-scored evaluator. Hard gates run
// first and any failure returns HOLD with score 0; only when all gates
// pass does the weighted scoring decide BUY, SELL or HOLD.
func EvaluateThreshold(symbol string, candles []market.Candle, p Params) Decision {
	closes := market.Closes(candles)

	minLen := p.SlowEMAPeriod
	if p.SMAPeriod > minLen {
		minLen = p.SMAPeriod
	}
	if need := p.MACDSlow + p.MACDSignal; need > minLen {
		minLen = need
	}
	if need := p.RSIPeriod + 1; need > minLen {
		minLen = need
	}
	if len(closes) < minLen {
		return hold(symbol, fmt.Sprintf("insufficient data: %d candles, need %d", len(closes), minLen), nil)
	}

	price := closes[len(closes)-1]

	sma, err := indicator.SMA(closes, p.SMAPeriod)
	if err != nil {
		return holdOnIndicatorError(symbol, "sma", err)
	}
	fastEMA, err := indicator.EMA(closes, p.FastEMAPeriod)
	if err != nil {
		return holdOnIndicatorError(symbol, "fast ema", err)
	}
	slowEMA, err := indicator.EMA(closes, p.SlowEMAPeriod)
	if err != nil {
		return holdOnIndicatorError(symbol, "slow ema", err)
	}
	rsi, err := indicator.RSI(closes, p.RSIPeriod)
	if err != nil {
		return holdOnIndicatorError(symbol, "rsi", err)
	}
	cci, err := indicator.CCI(market.Highs(candles), market.Lows(candles), closes, p.CCIPeriod)
	if err != nil {
		return holdOnIndicatorError(symbol, "cci", err)
	}
	macd, err := indicator.MACDSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if err != nil {
		return holdOnIndicatorError(symbol, "macd", err)
	}
	if len(macd.Hist) == 0 {
		return hold(symbol, "insufficient data for macd histogram", nil)
	}
	histogram := macd.Hist[len(macd.Hist)-1]

	snap := ThresholdSnapshot{
		Price:     price,
		SMA:       sma,
		FastEMA:   fastEMA,
		SlowEMA:   slowEMA,
		RSI:       rsi,
		CCI:       cci,
		Histogram: histogram,
	}

	// Hard gates. Order matters: each failure names its own gate.
	if fastEMA <= slowEMA {
		return hold(symbol, "gate: fast ema not above slow ema", snap)
	}
	if price <= slowEMA {
		return hold(symbol, "gate: price not above slow ema", snap)
	}

	var score float64
	if price > sma {
		score += p.TrendWeight
	} else {
		score -= p.TrendWeight
	}
	if histogram > 0 {
		score += p.MomentumWeight
	} else if histogram < 0 {
		score -= p.MomentumWeight
	}
	if rsi < p.RSIOversold {
		score += p.RSIWeight
	} else if rsi > p.RSIOverbought {
		score -= p.RSIWeight
	}
	if cci < p.CCILow {
		score += p.CCIWeight
	} else if cci > p.CCIHigh {
		score -= p.CCIWeight
	}

	switch {
	case score >= p.BuyThreshold:
		return Decision{Symbol: symbol, Signal: SignalBuy, Score: score, Reason: "score above buy threshold", Snapshot: snap}
	case score <= p.SellThreshold:
		return Decision{Symbol: symbol, Signal: SignalSell, Score: score, Reason: "score below sell threshold", Snapshot: snap}
	default:
		return Decision{Symbol: symbol, Signal: SignalHold, Score: score, Reason: "score between thresholds", Snapshot: snap}
	}
}

func holdOnIndicatorError(symbol, name string, err error) Decision {
	if errors.Is(err, indicator.ErrInsufficientData) {
		return hold(symbol, "insufficient data for "+name, nil)
	}
	return hold(symbol, name+": "+err.Error(), nil)
}
