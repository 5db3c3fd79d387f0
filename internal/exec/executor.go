// Package exec quantizes and submits orders, persists the audit record
// and creates positions on filled entries. Exchange rejections come back
// as non-fatal results so one symbol never aborts a batch.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spot-trend-bot/internal/binance/exchange"
	"spot-trend-bot/internal/config"
	"spot-trend-bot/internal/market"
	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/state"
)

const (
	retryAttempts = 5
	retryBackoff  = 200 * time.Millisecond
)

type TradeAPI interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResponse, error)
}

type FilterSource interface {
	Filters(ctx context.Context, symbol string) (market.SymbolFilters, error)
}

// Result reports one buy attempt. Executed false with a Reason is a
// rejection, not an error; the iteration carries on.
type Result struct {
	Symbol   string
	Executed bool
	Reason   string
	OrderID  int64
	Quantity float64
	AvgPrice float64
	Position *position.Position
}

type Executor struct {
	trade   TradeAPI
	filters FilterSource
	store   state.Store
	cfg     config.RiskConfig
	log     *zap.Logger
}

func New(trade TradeAPI, filters FilterSource, store state.Store, cfg config.RiskConfig, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{trade: trade, filters: filters, store: store, cfg: cfg, log: log}
}

// BuyMarket quantizes rawQty against the symbol filters, submits a
// market buy and, on fill, persists the order record and creates the
// position with stop and target derived from the entry price.
func (e *Executor) BuyMarket(ctx context.Context, symbol string, rawQty, price float64) (Result, error) {
	result := Result{Symbol: symbol}
	filters, err := e.filters.Filters(ctx, symbol)
	if err != nil {
		result.Reason = fmt.Sprintf("load filters: %v", err)
		return result, nil
	}
	qty, reason := QuantizeBuy(rawQty, price, filters, e.cfg.MinNotionalBuffer)
	if reason != "" {
		result.Reason = reason
		return result, nil
	}

	req := exchange.OrderRequest{Symbol: symbol, Side: "BUY", Type: "MARKET", Quantity: qty}
	resp, err := e.submit(ctx, req)
	if err != nil {
		result.Reason = fmt.Sprintf("order rejected: %v", err)
		return result, nil
	}

	entryPrice := resp.AvgFillPrice()
	if entryPrice == 0 {
		entryPrice = price
	}
	filledQty := resp.ExecutedQuantity()
	if filledQty == 0 {
		filledQty = qty
	}

	// The exchange filled the order; store failures from here on must
	// not unwind the trade.
	e.recordOrder(ctx, req, resp)

	pos := &position.Position{
		Symbol:          symbol,
		Side:            "BUY",
		EntryPrice:      entryPrice,
		Quantity:        filledQty,
		CurrentPrice:    entryPrice,
		StopLossPrice:   entryPrice * (1 - e.cfg.StopLossPct/100),
		TakeProfitPrice: entryPrice * (1 + e.cfg.TakeProfitPct/100),
		HighestPrice:    entryPrice,
		TrailingEnabled: e.cfg.TrailingEnabled,
		Status:          position.StatusOpen,
		EntryOrderID:    resp.OrderID,
	}
	pos.InitialStopLossPrice = pos.StopLossPrice
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		e.log.Error("position persist failed after fill",
			zap.String("symbol", symbol),
			zap.Int64("order_id", resp.OrderID),
			zap.Error(err))
	}

	result.Executed = true
	result.OrderID = resp.OrderID
	result.Quantity = filledQty
	result.AvgPrice = entryPrice
	result.Position = pos
	e.log.Info("entry filled",
		zap.String("symbol", symbol),
		zap.Int64("order_id", resp.OrderID),
		zap.Float64("qty", filledQty),
		zap.Float64("price", entryPrice))
	return result, nil
}

// Exit submits the market sell for an open position. A notional below
// the exchange minimum defers the exit unless forced; the position stays
// open and the monitor retries next iteration.
func (e *Executor) Exit(ctx context.Context, pos *position.Position, reason string, force bool) (position.ExitResult, error) {
	filters, err := e.filters.Filters(ctx, pos.Symbol)
	if err != nil {
		return position.ExitResult{}, fmt.Errorf("load filters for %s: %w", pos.Symbol, err)
	}
	qty, deferReason := QuantizeSell(pos.Quantity, pos.CurrentPrice, filters, force)
	if deferReason != "" {
		e.log.Warn("exit deferred",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", deferReason))
		return position.ExitResult{Deferred: true, Reason: deferReason}, nil
	}

	req := exchange.OrderRequest{Symbol: pos.Symbol, Side: "SELL", Type: "MARKET", Quantity: qty}
	resp, err := e.submit(ctx, req)
	if err != nil {
		return position.ExitResult{}, fmt.Errorf("exit order for %s: %w", pos.Symbol, err)
	}
	// The sell filled; a failed audit write must not leave the position
	// OPEN for a second exit attempt.
	e.recordOrder(ctx, req, resp)

	avg := resp.AvgFillPrice()
	if avg == 0 {
		avg = pos.CurrentPrice
	}
	e.log.Info("exit filled",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Int64("order_id", resp.OrderID),
		zap.Float64("qty", qty),
		zap.Float64("price", avg))
	return position.ExitResult{OrderID: resp.OrderID, Quantity: qty, AvgPrice: avg}, nil
}

// recordOrder appends the audit entry for a submitted order. The order
// already happened on the exchange, so a store failure is logged and
// swallowed rather than propagated.
func (e *Executor) recordOrder(ctx context.Context, req exchange.OrderRequest, resp exchange.OrderResponse) {
	reqJSON, _ := json.Marshal(req)
	respJSON, _ := json.Marshal(resp)
	rec := state.OrderRecord{
		Symbol:           req.Symbol,
		Side:             req.Side,
		Type:             req.Type,
		Quantity:         req.Quantity,
		Status:           resp.Status,
		ExchangeOrderID:  resp.OrderID,
		RequestSnapshot:  string(reqJSON),
		ResponseSnapshot: string(respJSON),
	}
	if err := e.store.InsertOrder(ctx, &rec); err != nil {
		e.log.Warn("order record persist failed",
			zap.String("symbol", req.Symbol),
			zap.Int64("order_id", resp.OrderID),
			zap.Error(err))
	}
}

// submit retries transient exchange errors with exponential backoff.
// Client and validation errors surface immediately.
func (e *Executor) submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResponse, error) {
	backoff := retryBackoff
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		resp, err := e.trade.PlaceOrder(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransient(err) {
			return exchange.OrderResponse{}, err
		}
		if attempt == retryAttempts-1 {
			break
		}
		e.log.Warn("transient order error, retrying",
			zap.String("symbol", req.Symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return exchange.OrderResponse{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return exchange.OrderResponse{}, fmt.Errorf("retry attempts exhausted: %w", lastErr)
}

func isTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// QuantizeBuy floors rawQty to a step multiple and enforces the minimum
// quantity and notional filters. A notional below minNotional times the
// buffer is raised to the minimum viable quantity instead of rejected.
// A non-empty reason means the order must not be submitted.
func QuantizeBuy(rawQty, price float64, f market.SymbolFilters, buffer float64) (float64, string) {
	if price <= 0 {
		return 0, "price must be positive"
	}
	if buffer < 1 {
		buffer = 1
	}
	step := decimal.NewFromFloat(f.StepSize)
	if step.IsZero() {
		return 0, "missing step size filter"
	}
	qty := floorToStep(decimal.NewFromFloat(rawQty), step)
	minQty := decimal.NewFromFloat(f.MinQty)
	if qty.LessThan(minQty) {
		return 0, "quantity below exchange minimum"
	}
	priceDec := decimal.NewFromFloat(price)
	required := decimal.NewFromFloat(f.MinNotional * buffer)
	if qty.Mul(priceDec).LessThan(required) {
		qty = ceilToStep(required.Div(priceDec), step)
	}
	out, _ := qty.Float64()
	return out, ""
}

// QuantizeSell floors the held quantity to a step multiple. Below
// minQty or minNotional the exit is deferred rather than submitted,
// unless forced by a manual close.
func QuantizeSell(heldQty, price float64, f market.SymbolFilters, force bool) (float64, string) {
	step := decimal.NewFromFloat(f.StepSize)
	if step.IsZero() {
		return 0, "missing step size filter"
	}
	qty := floorToStep(decimal.NewFromFloat(heldQty), step)
	if qty.IsZero() {
		return 0, "held quantity rounds to zero"
	}
	if force {
		out, _ := qty.Float64()
		return out, ""
	}
	if qty.LessThan(decimal.NewFromFloat(f.MinQty)) {
		return 0, "quantity below exchange minimum"
	}
	if qty.Mul(decimal.NewFromFloat(price)).LessThan(decimal.NewFromFloat(f.MinNotional)) {
		return 0, "notional below exchange minimum"
	}
	out, _ := qty.Float64()
	return out, ""
}

func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Floor().Mul(step)
}

func ceilToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Ceil().Mul(step)
}
