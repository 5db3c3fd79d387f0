// Package strategy turns candle series into trade decisions. Two
// variants exist: a threshold-scored evaluator over a single timeframe
// and a multi-timeframe MACD evaluator with three sequential gates.
package strategy

type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Snapshot is the strategy-specific indicator payload attached to a
// Decision. Each variant carries its own typed snapshot.
type Snapshot interface {
	snapshotMarker()
}

type ThresholdSnapshot struct {
	Price     float64
	SMA       float64
	FastEMA   float64
	SlowEMA   float64
	RSI       float64
	CCI       float64
	Histogram float64
}

func (ThresholdSnapshot) snapshotMarker() {}

type MTFSnapshot struct {
	Bias           string
	BiasSeparation float64
	TriggerMACD    float64
	TriggerAgeBars int
	ConfirmHist    [3]float64
}

func (MTFSnapshot) snapshotMarker() {}

// Decision is the per-symbol, per-iteration output of an evaluator.
// Recomputed every iteration and never mutated.
type Decision struct {
	Symbol   string
	Signal   Signal
	Score    float64
	Reason   string
	Snapshot Snapshot
}

func hold(symbol, reason string, snap Snapshot) Decision {
	return Decision{Symbol: symbol, Signal: SignalHold, Reason: reason, Snapshot: snap}
}
