package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Symbols: []string{"BTCUSDT"}}}
	applyDefaults(cfg)
	if cfg.Strategy.Mode != "threshold" {
		t.Fatalf("expected default mode threshold, got %q", cfg.Strategy.Mode)
	}
	if cfg.Strategy.LoopInterval != time.Minute {
		t.Fatalf("expected default loop interval 1m, got %v", cfg.Strategy.LoopInterval)
	}
	if cfg.Strategy.CandleLimit != 200 {
		t.Fatalf("expected default candle limit 200, got %d", cfg.Strategy.CandleLimit)
	}
	if cfg.Risk.MinNotionalBuffer <= 1 {
		t.Fatalf("expected min notional buffer > 1, got %v", cfg.Risk.MinNotionalBuffer)
	}
	if cfg.Cooldown.StopLoss <= cfg.Cooldown.TakeProfit {
		t.Fatalf("expected stop-loss cooldown to outlast take-profit cooldown")
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Mode: "martingale", Symbols: []string{"BTCUSDT"}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown strategy mode")
	}
}

func TestValidateRequiresSymbolsWithoutDiscovery(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error when no symbols and auto discovery disabled")
	}
	cfg.Strategy.AutoDiscover = true
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error with auto discovery: %v", err)
	}
}

func TestValidateRejectsBadBuffer(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Symbols: []string{"BTCUSDT"}}}
	applyDefaults(cfg)
	cfg.Risk.MinNotionalBuffer = 1
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for buffer <= 1")
	}
}
