package strategy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// ParamsKey is the kv key an operator writes to override tunables at
// runtime. The value is a JSON object with the Params field names.
const ParamsKey = "strategy:params"

// Params are the tunable strategy parameters. They start from defaults,
// may be partially overridden in config, and are re-read from the state
// store on a TTL so an operator can adjust them without a restart.
type Params struct {
	SMAPeriod     int `json:"sma_period"`
	FastEMAPeriod int `json:"fast_ema_period"`
	SlowEMAPeriod int `json:"slow_ema_period"`
	RSIPeriod     int `json:"rsi_period"`
	CCIPeriod     int `json:"cci_period"`

	MACDFast   int `json:"macd_fast"`
	MACDSlow   int `json:"macd_slow"`
	MACDSignal int `json:"macd_signal"`

	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`

	TrendWeight    float64 `json:"trend_weight"`
	MomentumWeight float64 `json:"momentum_weight"`
	RSIWeight      float64 `json:"rsi_weight"`
	CCIWeight      float64 `json:"cci_weight"`

	RSIOversold   float64 `json:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought"`
	CCILow        float64 `json:"cci_low"`
	CCIHigh       float64 `json:"cci_high"`

	BiasSeparationPct float64 `json:"bias_separation_pct"`
	CrossoverLookback int     `json:"crossover_lookback"`
	StrengthWindow    int     `json:"strength_window"`
	Confidence        float64 `json:"confidence"`
}

func DefaultParams() Params {
	return Params{
		SMAPeriod:     20,
		FastEMAPeriod: 9,
		SlowEMAPeriod: 21,
		RSIPeriod:     14,
		CCIPeriod:     20,

		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,

		BuyThreshold:  0.6,
		SellThreshold: -0.6,

		TrendWeight:    0.3,
		MomentumWeight: 0.3,
		RSIWeight:      0.2,
		CCIWeight:      0.2,

		RSIOversold:   30,
		RSIOverbought: 70,
		CCILow:        -100,
		CCIHigh:       100,

		BiasSeparationPct: 5,
		CrossoverLookback: 10,
		StrengthWindow:    50,
		Confidence:        0.8,
	}
}

type paramStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// ParamCache serves the current Params without blocking evaluation on a
// store read. Lookups within the refresh interval return the cached
// snapshot; a failed or empty read keeps the last good values.
type ParamCache struct {
	store    paramStore
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	current   Params
	fetchedAt time.Time
}

func NewParamCache(store paramStore, interval time.Duration, base Params) *ParamCache {
	return &ParamCache{
		store:    store,
		interval: interval,
		now:      time.Now,
		current:  base,
	}
}

func (c *ParamCache) Current(ctx context.Context) Params {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.interval
	params := c.current
	c.mu.RUnlock()
	if fresh || c.store == nil {
		return params
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.interval {
		return c.current
	}
	c.fetchedAt = c.now()
	raw, ok, err := c.store.Get(ctx, ParamsKey)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return c.current
	}
	next := c.current
	if err := json.Unmarshal([]byte(raw), &next); err != nil {
		return c.current
	}
	c.current = next
	return c.current
}
