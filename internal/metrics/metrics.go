package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Iterations       Counter
	FetchFailures    Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	PositionsOpened  Counter
	PositionsClosed  Counter
	StopLossExits    Counter
	TakeProfitExits  Counter
	TrailingRatchets Counter
	CooldownSkips    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Iterations:       n,
		FetchFailures:    n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		PositionsOpened:  n,
		PositionsClosed:  n,
		StopLossExits:    n,
		TakeProfitExits:  n,
		TrailingRatchets: n,
		CooldownSkips:    n,
	}
}
