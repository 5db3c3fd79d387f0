package position

import (
	"context"

	"go.uber.org/zap"

	"spot-trend-bot/internal/config"
	"spot-trend-bot/internal/cooldown"
	"spot-trend-bot/internal/metrics"
)

// ExitResult reports one exit attempt made on behalf of the monitor.
// Deferred means the notional was too small to submit; the position
// stays open and is retried next iteration.
type ExitResult struct {
	OrderID  int64
	Quantity float64
	AvgPrice float64
	Deferred bool
	Reason   string
}

type ExitExecutor interface {
	Exit(ctx context.Context, pos *Position, reason string, force bool) (ExitResult, error)
}

type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

type Store interface {
	OpenPositions(ctx context.Context) ([]*Position, error)
	UpdatePosition(ctx context.Context, pos *Position) error
}

type Cooldowns interface {
	Set(symbol string, reason cooldown.Reason)
}

// Monitor walks the open positions every iteration and drives the exit
// state machine. It runs unconditionally; the global trading gate only
// blocks new entries, never risk containment.
type Monitor struct {
	store     Store
	prices    PriceSource
	executor  ExitExecutor
	cooldowns Cooldowns
	cfg       config.RiskConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewMonitor(store Store, prices PriceSource, executor ExitExecutor, cooldowns Cooldowns, cfg config.RiskConfig, m *metrics.Metrics, log *zap.Logger) *Monitor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		store:     store,
		prices:    prices,
		executor:  executor,
		cooldowns: cooldowns,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

// CheckAll evaluates every open position. Per-position failures are
// logged and skipped; one symbol never blocks the rest.
func (m *Monitor) CheckAll(ctx context.Context) {
	open, err := m.store.OpenPositions(ctx)
	if err != nil {
		m.log.Error("load open positions", zap.Error(err))
		return
	}
	for _, pos := range open {
		if err := m.Check(ctx, pos); err != nil {
			m.log.Warn("position check failed",
				zap.String("symbol", pos.Symbol),
				zap.Int64("position_id", pos.ID),
				zap.Error(err))
		}
	}
}

// Check updates one open position with the current price and applies
// the exit rules in fixed priority: stop loss, take profit, trailing
// ratchet.
func (m *Monitor) Check(ctx context.Context, pos *Position) error {
	if pos.Terminal() {
		return nil
	}
	price, err := m.prices.Price(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	pos.CurrentPrice = price
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}

	switch {
	case price <= pos.StopLossPrice:
		return m.exit(ctx, pos, StatusStoppedOut, cooldown.ReasonStopLoss, false)
	case price >= pos.TakeProfitPrice:
		return m.exit(ctx, pos, StatusTakeProfit, cooldown.ReasonTakeProfit, false)
	}

	if pos.TrailingEnabled && pos.UnrealizedGainPct() >= m.cfg.TrailingActivationPct {
		candidate := pos.HighestPrice * (1 - m.cfg.TrailingDistancePct/100)
		if candidate < pos.EntryPrice {
			candidate = pos.EntryPrice
		}
		if candidate > pos.StopLossPrice {
			pos.StopLossPrice = candidate
			m.metrics.TrailingRatchets.Inc()
			m.log.Info("trailing stop raised",
				zap.String("symbol", pos.Symbol),
				zap.Float64("stop", candidate),
				zap.Float64("highest", pos.HighestPrice))
		}
	}

	return m.store.UpdatePosition(ctx, pos)
}

// Close exits a position outside the stop and target rules, for manual
// closes and signal-driven exits. Force bypasses the minimum notional
// deferral. The resulting status is CLOSED with the manual cooldown.
func (m *Monitor) Close(ctx context.Context, pos *Position, force bool) error {
	if pos.Terminal() {
		return nil
	}
	price, err := m.prices.Price(ctx, pos.Symbol)
	if err == nil {
		pos.CurrentPrice = price
		if price > pos.HighestPrice {
			pos.HighestPrice = price
		}
	}
	return m.exit(ctx, pos, StatusClosed, cooldown.ReasonManualSell, force)
}

// ForceClose is the manual close path exposed to the operator.
func (m *Monitor) ForceClose(ctx context.Context, pos *Position) error {
	return m.Close(ctx, pos, true)
}

func (m *Monitor) exit(ctx context.Context, pos *Position, status Status, reason cooldown.Reason, force bool) error {
	result, err := m.executor.Exit(ctx, pos, string(reason), force)
	if err != nil {
		return err
	}
	if result.Deferred {
		// Stays OPEN; persist the refreshed price and retry later.
		return m.store.UpdatePosition(ctx, pos)
	}
	pos.Status = status
	pos.ExitOrderID = result.OrderID
	pos.ClosedAt = nowUTC()
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return err
	}
	if m.cooldowns != nil {
		m.cooldowns.Set(pos.Symbol, reason)
	}
	m.metrics.PositionsClosed.Inc()
	switch status {
	case StatusStoppedOut:
		m.metrics.StopLossExits.Inc()
	case StatusTakeProfit:
		m.metrics.TakeProfitExits.Inc()
	}
	m.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.Int64("position_id", pos.ID),
		zap.String("status", string(status)),
		zap.Float64("exit_price", result.AvgPrice))
	return nil
}
