// Package engine drives the trading loop: refresh the tradable symbol
// set, run the position monitor, gate new entries, fetch candles with
// per-symbol failure isolation, evaluate the strategy and execute the
// resulting decisions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"spot-trend-bot/internal/alerts"
	"spot-trend-bot/internal/config"
	"spot-trend-bot/internal/cooldown"
	"spot-trend-bot/internal/exec"
	"spot-trend-bot/internal/market"
	"spot-trend-bot/internal/metrics"
	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/risk"
	"spot-trend-bot/internal/state"
	"spot-trend-bot/internal/strategy"
	"spot-trend-bot/internal/timescale"
)

var ErrAlreadyRunning = errors.New("engine already running")

type MarketAPI interface {
	Symbols(ctx context.Context) ([]string, error)
	SymbolSource() string
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

type BalanceAPI interface {
	FreeBalance(ctx context.Context, asset string) (float64, error)
}

type Buyer interface {
	BuyMarket(ctx context.Context, symbol string, rawQty, price float64) (exec.Result, error)
}

type RiskChecker interface {
	CheckGlobalTrading(ctx context.Context) error
	ValidateOrder(ctx context.Context, symbol string) error
}

type PositionMonitor interface {
	CheckAll(ctx context.Context)
	Close(ctx context.Context, pos *position.Position, force bool) error
}

type Deps struct {
	Log       *zap.Logger
	Store     state.Store
	Market    MarketAPI
	Balances  BalanceAPI
	Executor  Buyer
	Risk      RiskChecker
	Monitor   PositionMonitor
	Cooldowns *cooldown.Tracker
	Params    *strategy.ParamCache
	Metrics   *metrics.Metrics
	Alerts    *alerts.Telegram
	Archive   *timescale.Writer
}

type Engine struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	market    MarketAPI
	balances  BalanceAPI
	executor  Buyer
	risk      RiskChecker
	monitor   PositionMonitor
	cooldowns *cooldown.Tracker
	params    *strategy.ParamCache
	metrics   *metrics.Metrics
	alerts    *alerts.Telegram
	archive   *timescale.Writer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	operatorWarned bool
}

func New(cfg *config.Config, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		store:     deps.Store,
		market:    deps.Market,
		balances:  deps.Balances,
		executor:  deps.Executor,
		risk:      deps.Risk,
		monitor:   deps.Monitor,
		cooldowns: deps.Cooldowns,
		params:    deps.Params,
		metrics:   m,
		alerts:    deps.Alerts,
		archive:   deps.Archive,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Start launches the loop in the background. A second Start while the
// loop is live is rejected.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx)
	e.log.Info("engine started", zap.String("mode", e.cfg.Strategy.Mode))
	return nil
}

// Stop signals the loop and waits for the iteration boundary.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()
	cancel()
	<-done
	e.log.Info("engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.running = false
		close(e.done)
		e.mu.Unlock()
	}()
	for {
		if ctx.Err() != nil {
			return
		}
		start := e.now()
		e.runIteration(ctx)
		elapsed := e.now().Sub(start)
		remaining := e.cfg.Strategy.LoopInterval - elapsed
		if remaining < 0 {
			e.log.Warn("iteration overran the loop interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", e.cfg.Strategy.LoopInterval))
			remaining = 0
		}
		if !e.sleep(ctx, remaining) {
			return
		}
	}
}

type symbolData struct {
	symbol  string
	primary []market.Candle
	bias    []market.Candle
	trigger []market.Candle
	confirm []market.Candle
}

func (e *Engine) runIteration(ctx context.Context) {
	e.metrics.Iterations.Inc()
	snapshot := state.EngineSnapshot{Running: true, LastIteration: e.now().UTC()}

	symbols, err := e.market.Symbols(ctx)
	if err != nil {
		e.log.Warn("symbol refresh failed", zap.Error(err))
	}
	snapshot.Symbols = symbols
	snapshot.SymbolSource = e.market.SymbolSource()

	// Risk containment first, and never behind the trading gate.
	e.monitor.CheckAll(ctx)

	gateErr := e.risk.CheckGlobalTrading(ctx)
	snapshot.TradingEnabled = gateErr == nil
	if gateErr != nil {
		e.log.Info("entry phase skipped", zap.String("reason", gateErr.Error()))
	} else if len(symbols) > 0 {
		fetched, failures := e.fetchCandles(ctx, symbols)
		snapshot.FetchFailures = failures
		params := e.params.Current(ctx)
		decisions := make([]strategy.Decision, 0, len(fetched))
		for _, data := range fetched {
			decision := e.evaluate(data, params)
			e.recordDecision(ctx, decision)
			switch decision.Signal {
			case strategy.SignalBuy:
				snapshot.SignalsBuy++
				decisions = append(decisions, decision)
			case strategy.SignalSell:
				snapshot.SignalsSell++
				decisions = append(decisions, decision)
			default:
				snapshot.SignalsHold++
			}
		}
		for i, decision := range decisions {
			if i > 0 && !e.sleep(ctx, e.cfg.Strategy.InterOrderDelay) {
				break
			}
			e.execute(ctx, decision)
		}
	}

	if open, err := e.store.OpenPositions(ctx); err == nil {
		snapshot.OpenPositions = len(open)
	}
	snapshot.LastDurationMS = e.now().UTC().Sub(snapshot.LastIteration).Milliseconds()
	if err := state.SaveEngineSnapshot(ctx, e.store, snapshot); err != nil {
		e.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// fetchCandles fans out one fetch per symbol and joins the results. A
// failed symbol is counted and excluded; the others proceed.
func (e *Engine) fetchCandles(ctx context.Context, symbols []string) ([]symbolData, int) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		out      []symbolData
		failures int
	)
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			data, err := e.fetchSymbol(ctx, symbol)
			if err != nil {
				e.metrics.FetchFailures.Inc()
				e.log.Warn("candle fetch failed", zap.String("symbol", symbol), zap.Error(err))
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			mu.Lock()
			out = append(out, data)
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out, failures
}

func (e *Engine) fetchSymbol(ctx context.Context, symbol string) (symbolData, error) {
	cfg := e.cfg.Strategy
	data := symbolData{symbol: symbol}
	if cfg.Mode == "macd_mtf" {
		var err error
		if data.bias, err = e.market.Candles(ctx, symbol, cfg.BiasInterval, cfg.CandleLimit); err != nil {
			return data, err
		}
		if data.trigger, err = e.market.Candles(ctx, symbol, cfg.TriggerInterval, cfg.CandleLimit); err != nil {
			return data, err
		}
		if data.confirm, err = e.market.Candles(ctx, symbol, cfg.ConfirmInterval, cfg.CandleLimit); err != nil {
			return data, err
		}
		e.archiveCandles(data.confirm)
		return data, nil
	}
	candles, err := e.market.Candles(ctx, symbol, cfg.CandleInterval, cfg.CandleLimit)
	if err != nil {
		return data, err
	}
	data.primary = candles
	e.archiveCandles(candles)
	return data, nil
}

func (e *Engine) archiveCandles(candles []market.Candle) {
	if e.archive == nil || len(candles) == 0 {
		return
	}
	e.archive.EnqueueCandle(candles[len(candles)-1])
}

func (e *Engine) evaluate(data symbolData, params strategy.Params) strategy.Decision {
	if e.cfg.Strategy.Mode == "macd_mtf" {
		return strategy.EvaluateMTF(data.symbol, data.bias, data.trigger, data.confirm, params)
	}
	return strategy.EvaluateThreshold(data.symbol, data.primary, params)
}

func (e *Engine) recordDecision(ctx context.Context, decision strategy.Decision) {
	record := state.DecisionRecord{
		Symbol:   decision.Symbol,
		Strategy: e.cfg.Strategy.Mode,
		Signal:   string(decision.Signal),
		Score:    decision.Score,
		Reason:   decision.Reason,
	}
	if err := e.store.AppendDecision(ctx, record); err != nil {
		e.log.Warn("decision log failed", zap.String("symbol", decision.Symbol), zap.Error(err))
	}
	if e.archive != nil {
		e.archive.EnqueueDecision(record)
	}
}

func (e *Engine) execute(ctx context.Context, decision strategy.Decision) {
	switch decision.Signal {
	case strategy.SignalBuy:
		e.executeBuy(ctx, decision)
	case strategy.SignalSell:
		e.executeSell(ctx, decision)
	}
}

func (e *Engine) executeBuy(ctx context.Context, decision strategy.Decision) {
	symbol := decision.Symbol
	if entry, active := e.cooldowns.Active(symbol); active {
		e.metrics.CooldownSkips.Inc()
		e.log.Info("entry skipped by cooldown",
			zap.String("symbol", symbol),
			zap.String("reason", string(entry.Reason)))
		return
	}
	if err := e.risk.ValidateOrder(ctx, symbol); err != nil {
		e.log.Info("entry denied", zap.String("symbol", symbol), zap.String("reason", err.Error()))
		return
	}
	price, err := e.market.Price(ctx, symbol)
	if err != nil {
		e.log.Warn("price lookup failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	free, err := e.balances.FreeBalance(ctx, e.cfg.Strategy.QuoteAsset)
	if err != nil {
		e.log.Warn("balance lookup failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	stop := price * (1 - e.cfg.Risk.StopLossPct/100)
	qty, err := risk.PositionSize(free, price, stop, e.cfg.Risk)
	if err != nil {
		e.log.Warn("position sizing failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	result, err := e.executor.BuyMarket(ctx, symbol, qty, price)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.log.Error("entry execution failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if !result.Executed {
		e.metrics.OrdersFailed.Inc()
		e.log.Info("entry rejected", zap.String("symbol", symbol), zap.String("reason", result.Reason))
		return
	}
	e.metrics.OrdersPlaced.Inc()
	e.metrics.PositionsOpened.Inc()
	e.notify(ctx, "Opened %s: qty %.8f at %.8f (score %.2f)", symbol, result.Quantity, result.AvgPrice, decision.Score)
}

// executeSell closes any open position for the symbol; without one the
// signal is a no-op for a long-only spot book.
func (e *Engine) executeSell(ctx context.Context, decision strategy.Decision) {
	open, err := e.store.OpenPositions(ctx)
	if err != nil {
		e.log.Warn("open position lookup failed", zap.Error(err))
		return
	}
	for _, pos := range open {
		if pos.Symbol != decision.Symbol {
			continue
		}
		if err := e.monitor.Close(ctx, pos, false); err != nil {
			e.log.Warn("signal exit failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if pos.Terminal() {
			e.notify(ctx, "Closed %s on sell signal at %.8f", pos.Symbol, pos.CurrentPrice)
		}
	}
}

func (e *Engine) notify(ctx context.Context, format string, args ...any) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Send(ctx, fmt.Sprintf(format, args...)); err != nil {
		e.log.Warn("alert send failed", zap.Error(err))
	}
}
