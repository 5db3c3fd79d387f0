package exec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"spot-trend-bot/internal/binance/exchange"
	"spot-trend-bot/internal/config"
	"spot-trend-bot/internal/market"
	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/state"
)

type fakeTrade struct {
	calls     int
	failTimes int
	failWith  error
	lastReq   exchange.OrderRequest
	resp      exchange.OrderResponse
}

func (f *fakeTrade) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResponse, error) {
	_ = ctx
	f.calls++
	f.lastReq = req
	if f.calls <= f.failTimes {
		return exchange.OrderResponse{}, f.failWith
	}
	return f.resp, nil
}

type fakeFilters struct {
	filters market.SymbolFilters
}

func (f *fakeFilters) Filters(ctx context.Context, symbol string) (market.SymbolFilters, error) {
	_ = ctx
	_ = symbol
	return f.filters, nil
}

type recordingStore struct {
	state.Store

	orders    []state.OrderRecord
	positions []*position.Position

	insertErr error
	createErr error
}

func (r *recordingStore) InsertOrder(ctx context.Context, order *state.OrderRecord) error {
	_ = ctx
	if r.insertErr != nil {
		return r.insertErr
	}
	order.ID = int64(len(r.orders) + 1)
	r.orders = append(r.orders, *order)
	return nil
}

func (r *recordingStore) CreatePosition(ctx context.Context, pos *position.Position) error {
	_ = ctx
	if r.createErr != nil {
		return r.createErr
	}
	pos.ID = int64(len(r.positions) + 1)
	r.positions = append(r.positions, pos)
	return nil
}

func defaultFilters() market.SymbolFilters {
	return market.SymbolFilters{MinQty: 0.001, StepSize: 0.001, MinNotional: 10}
}

func riskCfg() config.RiskConfig {
	return config.RiskConfig{
		StopLossPct:       2,
		TakeProfitPct:     4,
		TrailingEnabled:   true,
		MinNotionalBuffer: 1.1,
	}
}

func TestQuantizeBuyFloorsToStep(t *testing.T) {
	qty, reason := QuantizeBuy(0.12345, 1000, defaultFilters(), 1)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if qty != 0.123 {
		t.Fatalf("expected 0.123, got %v", qty)
	}
}

func TestQuantizeBuyRejectsBelowMinQty(t *testing.T) {
	_, reason := QuantizeBuy(0.0004, 1000, defaultFilters(), 1)
	if !strings.Contains(reason, "quantity below exchange minimum") {
		t.Fatalf("expected min quantity rejection, got %q", reason)
	}
}

func TestQuantizeBuyRaisesToMinNotional(t *testing.T) {
	// notional 0.05*100 = 5 < 10: raise to 10/100 = 0.1.
	qty, reason := QuantizeBuy(0.05, 100, defaultFilters(), 1)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	if qty != 0.1 {
		t.Fatalf("expected 0.1, got %v", qty)
	}
}

func TestQuantizeBuyBufferAboveMinNotional(t *testing.T) {
	qty, reason := QuantizeBuy(0.05, 100, defaultFilters(), 1.1)
	if reason != "" {
		t.Fatalf("unexpected rejection: %s", reason)
	}
	// Required notional 11 at price 100 needs 0.11.
	if qty != 0.11 {
		t.Fatalf("expected 0.11, got %v", qty)
	}
}

func TestQuantizeSellDefersBelowMinNotional(t *testing.T) {
	_, reason := QuantizeSell(0.05, 100, defaultFilters(), false)
	if !strings.Contains(reason, "notional below exchange minimum") {
		t.Fatalf("expected notional deferral, got %q", reason)
	}
	qty, reason := QuantizeSell(0.05, 100, defaultFilters(), true)
	if reason != "" {
		t.Fatalf("forced sell must bypass the guard, got %q", reason)
	}
	if qty != 0.05 {
		t.Fatalf("expected 0.05, got %v", qty)
	}
}

func TestBuyCreatesPosition(t *testing.T) {
	trade := &fakeTrade{resp: exchange.OrderResponse{
		OrderID:     42,
		Status:      "FILLED",
		ExecutedQty: "0.5",
		Fills:       []exchange.Fill{{Price: "101", Qty: "0.5"}},
	}}
	store := &recordingStore{}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	result, err := e.BuyMarket(context.Background(), "BTCUSDT", 0.5, 100)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !result.Executed {
		t.Fatalf("expected execution, got reason %q", result.Reason)
	}
	if len(store.orders) != 1 || store.orders[0].ExchangeOrderID != 42 {
		t.Fatalf("expected order record: %+v", store.orders)
	}
	if len(store.positions) != 1 {
		t.Fatalf("expected position created")
	}
	pos := store.positions[0]
	if pos.EntryPrice != 101 || pos.Quantity != 0.5 {
		t.Fatalf("unexpected fill bookkeeping: %+v", pos)
	}
	if !(pos.StopLossPrice < pos.EntryPrice && pos.EntryPrice < pos.TakeProfitPrice) {
		t.Fatalf("stop/target ordering violated: %+v", pos)
	}
	if pos.HighestPrice != pos.EntryPrice {
		t.Fatalf("highest price must seed to entry: %+v", pos)
	}
	if pos.InitialStopLossPrice != pos.StopLossPrice {
		t.Fatalf("initial stop must match stop at creation: %+v", pos)
	}
	if !pos.TrailingEnabled {
		t.Fatalf("trailing flag not carried from config")
	}
}

func TestBuyRejectionIsNonFatal(t *testing.T) {
	trade := &fakeTrade{failTimes: 1, failWith: &exchange.APIError{Status: 400, Code: -2010, Message: "insufficient balance"}}
	store := &recordingStore{}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	result, err := e.BuyMarket(context.Background(), "BTCUSDT", 0.5, 100)
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if result.Executed {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(result.Reason, "insufficient balance") {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
	if trade.calls != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", trade.calls)
	}
	if len(store.positions) != 0 {
		t.Fatalf("no position on rejection")
	}
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	trade := &fakeTrade{
		failTimes: 2,
		failWith:  &exchange.APIError{Status: 429, Code: -1003, Message: "too many requests"},
		resp:      exchange.OrderResponse{OrderID: 7, Status: "FILLED", ExecutedQty: "0.5"},
	}
	store := &recordingStore{}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	result, err := e.BuyMarket(context.Background(), "BTCUSDT", 0.5, 100)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !result.Executed {
		t.Fatalf("expected execution after retries, got %q", result.Reason)
	}
	if trade.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", trade.calls)
	}
}

func TestExitRecordsOrder(t *testing.T) {
	trade := &fakeTrade{resp: exchange.OrderResponse{
		OrderID:     55,
		Status:      "FILLED",
		ExecutedQty: "0.5",
		Fills:       []exchange.Fill{{Price: "97", Qty: "0.5"}},
	}}
	store := &recordingStore{}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	pos := &position.Position{Symbol: "BTCUSDT", Quantity: 0.5, CurrentPrice: 97, Status: position.StatusOpen}
	result, err := e.Exit(context.Background(), pos, "stop_loss", false)
	if err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if result.Deferred {
		t.Fatalf("unexpected deferral: %s", result.Reason)
	}
	if result.OrderID != 55 || result.AvgPrice != 97 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if trade.lastReq.Side != "SELL" {
		t.Fatalf("expected SELL, got %s", trade.lastReq.Side)
	}
	if len(store.orders) != 1 {
		t.Fatalf("expected order record")
	}
}

func TestExitDefersSmallNotional(t *testing.T) {
	trade := &fakeTrade{}
	store := &recordingStore{}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	pos := &position.Position{Symbol: "BTCUSDT", Quantity: 0.05, CurrentPrice: 100, Status: position.StatusOpen}
	result, err := e.Exit(context.Background(), pos, "stop_loss", false)
	if err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if !result.Deferred {
		t.Fatalf("expected deferral")
	}
	if trade.calls != 0 {
		t.Fatalf("deferred exit must not submit an order")
	}

	result, err = e.Exit(context.Background(), pos, "manual_sell", true)
	if err != nil {
		t.Fatalf("forced exit failed: %v", err)
	}
	if result.Deferred {
		t.Fatalf("forced exit must not defer")
	}
	if trade.calls != 1 {
		t.Fatalf("expected forced submission")
	}
}

func TestBuyStoreFailureStillExecuted(t *testing.T) {
	trade := &fakeTrade{resp: exchange.OrderResponse{
		OrderID:     42,
		Status:      "FILLED",
		ExecutedQty: "0.5",
		Fills:       []exchange.Fill{{Price: "101", Qty: "0.5"}},
	}}
	store := &recordingStore{
		insertErr: errors.New("disk full"),
		createErr: errors.New("disk full"),
	}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	result, err := e.BuyMarket(context.Background(), "BTCUSDT", 0.5, 100)
	if err != nil {
		t.Fatalf("a filled order must not surface a store error: %v", err)
	}
	if !result.Executed {
		t.Fatalf("fill happened on the exchange, result must report it: %+v", result)
	}
	if result.OrderID != 42 || result.Position == nil {
		t.Fatalf("fill bookkeeping lost: %+v", result)
	}
}

func TestExitStoreFailureStillCloses(t *testing.T) {
	trade := &fakeTrade{resp: exchange.OrderResponse{
		OrderID:     55,
		Status:      "FILLED",
		ExecutedQty: "0.5",
		Fills:       []exchange.Fill{{Price: "97", Qty: "0.5"}},
	}}
	store := &recordingStore{insertErr: errors.New("disk full")}
	e := New(trade, &fakeFilters{filters: defaultFilters()}, store, riskCfg(), nil)

	pos := &position.Position{Symbol: "BTCUSDT", Quantity: 0.5, CurrentPrice: 97, Status: position.StatusOpen}
	result, err := e.Exit(context.Background(), pos, "stop_loss", false)
	if err != nil {
		t.Fatalf("a filled sell must not surface a store error: %v", err)
	}
	if result.Deferred {
		t.Fatalf("unexpected deferral: %s", result.Reason)
	}
	if result.OrderID != 55 {
		t.Fatalf("exit fill lost, a retry would sell quantity no longer held: %+v", result)
	}
	if trade.calls != 1 {
		t.Fatalf("expected a single submission, got %d", trade.calls)
	}
}

func TestIsTransient(t *testing.T) {
	if isTransient(errors.New("plain")) {
		t.Fatalf("plain errors are not transient")
	}
	if !isTransient(&exchange.APIError{Status: 500}) {
		t.Fatalf("5xx must be transient")
	}
	if isTransient(&exchange.APIError{Status: 400, Code: -1013}) {
		t.Fatalf("filter violations are client errors")
	}
}
