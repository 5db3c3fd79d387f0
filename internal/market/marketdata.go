package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot-trend-bot/internal/binance/rest"
	"spot-trend-bot/internal/binance/ws"

	"go.uber.org/zap"
)

// SymbolFilters are the exchange-imposed quantization rules for one
// symbol. They change rarely, so they are fetched once and cached for
// the process lifetime.
type SymbolFilters struct {
	MinQty      float64
	StepSize    float64
	MinNotional float64
}

// RestAPI is the slice of the exchange market-data surface MarketData
// consumes.
type RestAPI interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([][]any, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	Ticker24h(ctx context.Context) ([]rest.Ticker24h, error)
	ExchangeInfo(ctx context.Context) (rest.ExchangeInfo, error)
}

type MarketData struct {
	rest RestAPI
	ws   *ws.Client
	log  *zap.Logger

	mu             sync.RWMutex
	prices         map[string]float64
	filters        map[string]SymbolFilters
	filtersLoaded  bool
	symbols        []string
	symbolSource   string
	lastSymbolSync time.Time

	manualSymbols []string
	discoverQuote string
	discoverLimit int
	symbolTTL     time.Duration
}

func New(restClient RestAPI, wsClient *ws.Client, log *zap.Logger) *MarketData {
	return &MarketData{
		rest:      restClient,
		ws:        wsClient,
		log:       log,
		prices:    make(map[string]float64),
		filters:   make(map[string]SymbolFilters),
		symbolTTL: 15 * time.Minute,
	}
}

// SetManualSymbols pins the tradable set to a fixed list.
func (m *MarketData) SetManualSymbols(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manualSymbols = append([]string(nil), symbols...)
	m.symbols = append([]string(nil), symbols...)
	m.symbolSource = "manual"
}

// EnableDiscovery switches the tradable set to the top quote-volume
// symbols for the given quote asset, refreshed on a TTL.
func (m *MarketData) EnableDiscovery(quote string, limit int, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverQuote = strings.ToUpper(quote)
	m.discoverLimit = limit
	if ttl > 0 {
		m.symbolTTL = ttl
	}
	m.symbolSource = "auto"
}

// Symbols returns the current tradable symbol set, refreshing the
// auto-discovered set when its TTL has elapsed.
func (m *MarketData) Symbols(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	source := m.symbolSource
	last := m.lastSymbolSync
	ttl := m.symbolTTL
	current := append([]string(nil), m.symbols...)
	m.mu.RUnlock()

	if source != "auto" {
		return current, nil
	}
	if !last.IsZero() && time.Since(last) < ttl && len(current) > 0 {
		return current, nil
	}
	discovered, err := m.discoverSymbols(ctx)
	if err != nil {
		if len(current) > 0 {
			m.log.Warn("symbol discovery failed, keeping previous set", zap.Error(err))
			return current, nil
		}
		return nil, err
	}
	m.mu.Lock()
	m.symbols = discovered
	m.lastSymbolSync = time.Now().UTC()
	m.mu.Unlock()
	return discovered, nil
}

func (m *MarketData) SymbolSource() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.symbolSource
}

func (m *MarketData) discoverSymbols(ctx context.Context) ([]string, error) {
	tickers, err := m.rest.Ticker24h(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	quote := m.discoverQuote
	limit := m.discoverLimit
	m.mu.RUnlock()
	type ranked struct {
		symbol string
		volume float64
	}
	candidates := make([]ranked, 0, limit)
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, quote) {
			continue
		}
		vol, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, ranked{symbol: t.Symbol, volume: vol})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].volume > candidates[j].volume })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.symbol
	}
	if len(out) == 0 {
		return nil, errors.New("no tradable symbols discovered")
	}
	return out, nil
}

// Candles fetches and parses klines, dropping malformed rows.
func (m *MarketData) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	rows, err := m.rest.Klines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}
	candles := make([]Candle, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		candle, ok := parseKlineRow(row, symbol, interval)
		if !ok {
			dropped++
			continue
		}
		candles = append(candles, candle)
	}
	if dropped > 0 {
		m.log.Warn("dropped invalid kline rows", zap.String("symbol", symbol), zap.Int("dropped", dropped))
	}
	return candles, nil
}

// Price returns the latest price for a symbol: the streamed ticker value
// when available, otherwise a REST lookup.
func (m *MarketData) Price(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	price, ok := m.prices[symbol]
	m.mu.RUnlock()
	if ok && price > 0 {
		return price, nil
	}
	price, err := m.rest.TickerPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
	return price, nil
}

// Filters returns the quantization filters for a symbol. The exchange
// info payload is fetched once per process and cached.
func (m *MarketData) Filters(ctx context.Context, symbol string) (SymbolFilters, error) {
	m.mu.RLock()
	loaded := m.filtersLoaded
	filters, ok := m.filters[symbol]
	m.mu.RUnlock()
	if ok {
		return filters, nil
	}
	if loaded {
		return SymbolFilters{}, fmt.Errorf("no exchange filters for symbol %s", symbol)
	}
	info, err := m.rest.ExchangeInfo(ctx)
	if err != nil {
		return SymbolFilters{}, err
	}
	parsed := parseFilters(info)
	m.mu.Lock()
	m.filters = parsed
	m.filtersLoaded = true
	filters, ok = m.filters[symbol]
	m.mu.Unlock()
	if !ok {
		return SymbolFilters{}, fmt.Errorf("no exchange filters for symbol %s", symbol)
	}
	return filters, nil
}

func parseFilters(info rest.ExchangeInfo) map[string]SymbolFilters {
	out := make(map[string]SymbolFilters, len(info.Symbols))
	for _, sym := range info.Symbols {
		var filters SymbolFilters
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				if v, ok := floatFromAny(f.MinQty); ok {
					filters.MinQty = v
				}
				if v, ok := floatFromAny(f.StepSize); ok {
					filters.StepSize = v
				}
			case "NOTIONAL", "MIN_NOTIONAL":
				raw := f.MinNotional
				if raw == "" {
					raw = f.Notional
				}
				if v, ok := floatFromAny(raw); ok {
					filters.MinNotional = v
				}
			}
		}
		out[sym.Symbol] = filters
	}
	return out
}

// Start connects the ticker stream for the given symbols and keeps the
// price cache updated in the background. A nil ws client disables
// streaming; Price falls back to REST.
func (m *MarketData) Start(ctx context.Context, symbols []string) error {
	if m.ws == nil {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	if err := m.ws.Subscribe(ctx, streams...); err != nil {
		return err
	}
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

func (m *MarketData) handleMessage(msg json.RawMessage) {
	var event struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	if event.Symbol == "" || event.Close == "" {
		return
	}
	price, err := strconv.ParseFloat(event.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	m.mu.Lock()
	m.prices[event.Symbol] = price
	m.mu.Unlock()
}
