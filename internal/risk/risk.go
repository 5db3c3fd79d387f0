// Package risk gates new entries and sizes positions. Exits are never
// gated here; the position monitor runs regardless of these checks.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"spot-trend-bot/internal/config"
)

const (
	TradingEnabledKey = "trading:enabled"
	KillSwitchKey     = "trading:kill_switch"
)

var (
	ErrTradingDisabled   = errors.New("trading disabled")
	ErrKillSwitchEngaged = errors.New("kill switch engaged")
	ErrPositionCap       = errors.New("open position cap reached")
	ErrZeroPriceRisk     = errors.New("stop price equals entry price")
)

type flagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

type positionCounter interface {
	OpenPositionCount(ctx context.Context, symbol string) (int, error)
}

type Engine struct {
	store     flagStore
	positions positionCounter
	cfg       config.RiskConfig
}

func New(store flagStore, positions positionCounter, cfg config.RiskConfig) *Engine {
	return &Engine{store: store, positions: positions, cfg: cfg}
}

// CheckGlobalTrading reads the persisted trading flags. A missing
// trading-enabled key defaults to enabled; the kill switch wins over
// everything. Only new entries consult this.
func (e *Engine) CheckGlobalTrading(ctx context.Context) error {
	kill, ok, err := e.store.Get(ctx, KillSwitchKey)
	if err != nil {
		return fmt.Errorf("read kill switch flag: %w", err)
	}
	if ok && kill == "true" {
		return ErrKillSwitchEngaged
	}
	enabled, ok, err := e.store.Get(ctx, TradingEnabledKey)
	if err != nil {
		return fmt.Errorf("read trading flag: %w", err)
	}
	if ok && enabled == "false" {
		return ErrTradingDisabled
	}
	return nil
}

// ValidateOrder denies a BUY when the symbol already holds the
// configured number of OPEN positions.
func (e *Engine) ValidateOrder(ctx context.Context, symbol string) error {
	count, err := e.positions.OpenPositionCount(ctx, symbol)
	if err != nil {
		return fmt.Errorf("count open positions for %s: %w", symbol, err)
	}
	if count >= e.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: %s has %d open", ErrPositionCap, symbol, count)
	}
	return nil
}

// PositionSize computes the quantity to buy from the risk budget and
// the per-unit price risk. Stop equal to entry is an explicit error,
// never a silent fallback.
func PositionSize(freeBalance, entryPrice, stopPrice float64, cfg config.RiskConfig) (float64, error) {
	priceRisk := math.Abs(entryPrice - stopPrice)
	if priceRisk == 0 {
		return 0, ErrZeroPriceRisk
	}
	if freeBalance <= 0 {
		return 0, fmt.Errorf("free balance %.8f is not positive", freeBalance)
	}
	capital := freeBalance * cfg.MaxCapitalPct / 100
	riskAmount := capital * cfg.RiskPerTradePct / 100
	return riskAmount / priceRisk, nil
}
