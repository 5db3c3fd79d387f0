// Package position holds the position lifecycle model and the monitor
// that drives exits.
package position

import "time"

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
	StatusStoppedOut Status = "STOPPED_OUT"
	StatusTakeProfit Status = "TAKE_PROFIT"
)

// Position is a long spot holding created by the executor on a filled
// BUY. It transitions to exactly one terminal status and is never
// reopened.
type Position struct {
	ID                   int64
	Symbol               string
	Side                 string
	EntryPrice           float64
	Quantity             float64
	CurrentPrice         float64
	StopLossPrice        float64
	TakeProfitPrice      float64
	InitialStopLossPrice float64
	HighestPrice         float64
	TrailingEnabled      bool
	Status               Status
	EntryOrderID         int64
	ExitOrderID          int64
	CreatedAt            time.Time
	ClosedAt             time.Time
}

func (p *Position) Terminal() bool {
	return p.Status != StatusOpen
}

// UnrealizedGainPct is the percentage gain of the current price over the
// entry price.
func (p *Position) UnrealizedGainPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
