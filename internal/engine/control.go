package engine

import (
	"context"
	"errors"
	"fmt"

	"spot-trend-bot/internal/cooldown"
	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/risk"
)

// The control surface below is called from outside the loop (operator
// commands), so everything it touches is either mutex-guarded state or
// goes through the store.

// TradableSymbols returns the current symbol set and its source.
func (e *Engine) TradableSymbols(ctx context.Context) ([]string, string, error) {
	symbols, err := e.market.Symbols(ctx)
	if err != nil {
		return nil, "", err
	}
	return symbols, e.market.SymbolSource(), nil
}

func (e *Engine) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	return e.store.OpenPositions(ctx)
}

func (e *Engine) Cooldowns() []cooldown.Entry {
	return e.cooldowns.Entries()
}

func (e *Engine) RemoveCooldown(symbol string) bool {
	return e.cooldowns.Remove(symbol)
}

func (e *Engine) ClearCooldowns() {
	e.cooldowns.Clear()
}

// SetTradingEnabled flips the persisted entry gate read by the risk
// engine. Exits keep running either way.
func (e *Engine) SetTradingEnabled(ctx context.Context, enabled bool) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	return e.store.Set(ctx, risk.TradingEnabledKey, value)
}

func (e *Engine) TradingEnabled(ctx context.Context) bool {
	return e.risk.CheckGlobalTrading(ctx) == nil
}

// CloseSymbol force-closes every open position for the symbol,
// bypassing the minimum notional deferral.
func (e *Engine) CloseSymbol(ctx context.Context, symbol string) (int, error) {
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return 0, err
	}
	closed := 0
	var firstErr error
	for _, pos := range open {
		if pos.Symbol != symbol {
			continue
		}
		if err := e.monitor.Close(ctx, pos, true); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if pos.Terminal() {
			closed++
		}
	}
	if closed == 0 && firstErr != nil {
		return 0, firstErr
	}
	return closed, firstErr
}

// OverrideStopLoss replaces the stop price of one open position. The
// monitor's trailing ratchet still only raises it afterwards.
func (e *Engine) OverrideStopLoss(ctx context.Context, positionID int64, stop float64) error {
	if stop <= 0 {
		return errors.New("stop price must be positive")
	}
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range open {
		if pos.ID != positionID {
			continue
		}
		if stop >= pos.CurrentPrice && pos.CurrentPrice > 0 {
			return fmt.Errorf("stop %.8f is at or above the current price %.8f", stop, pos.CurrentPrice)
		}
		pos.StopLossPrice = stop
		return e.store.UpdatePosition(ctx, pos)
	}
	return fmt.Errorf("no open position with id %d", positionID)
}
