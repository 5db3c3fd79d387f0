// Package cooldown suppresses re-entry into a symbol for a while after a
// position there was closed. State is process-local by design; a restart
// clears all cooldowns.
package cooldown

import (
	"sync"
	"time"

	"spot-trend-bot/internal/config"
)

type Reason string

const (
	ReasonStopLoss   Reason = "stop_loss"
	ReasonTakeProfit Reason = "take_profit"
	ReasonManualSell Reason = "manual_sell"
)

type Entry struct {
	Symbol   string
	Reason   Reason
	ClosedAt time.Time
}

type Tracker struct {
	cfg config.CooldownConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

func New(cfg config.CooldownConfig) *Tracker {
	return &Tracker{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

func (t *Tracker) Duration(reason Reason) time.Duration {
	switch reason {
	case ReasonStopLoss:
		return t.cfg.StopLoss
	case ReasonTakeProfit:
		return t.cfg.TakeProfit
	default:
		return t.cfg.ManualSell
	}
}

func (t *Tracker) Set(symbol string, reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[symbol] = Entry{Symbol: symbol, Reason: reason, ClosedAt: t.now()}
}

// Active reports whether the symbol is still cooling down. Expired entries
// are evicted lazily on lookup.
func (t *Tracker) Active(symbol string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[symbol]
	if !ok {
		return Entry{}, false
	}
	if t.now().Sub(entry.ClosedAt) >= t.Duration(entry.Reason) {
		delete(t.entries, symbol)
		return Entry{}, false
	}
	return entry, true
}

func (t *Tracker) Remove(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[symbol]; !ok {
		return false
	}
	delete(t.entries, symbol)
	return true
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]Entry)
}

// Entries returns the still-active cooldowns, evicting expired ones.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]Entry, 0, len(t.entries))
	for symbol, entry := range t.entries {
		if now.Sub(entry.ClosedAt) >= t.Duration(entry.Reason) {
			delete(t.entries, symbol)
			continue
		}
		out = append(out, entry)
	}
	return out
}
