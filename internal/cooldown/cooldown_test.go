package cooldown

import (
	"testing"
	"time"

	"spot-trend-bot/internal/config"
)

func newTestTracker(now *time.Time) *Tracker {
	t := New(config.CooldownConfig{
		StopLoss:   4 * time.Hour,
		TakeProfit: time.Hour,
		ManualSell: 2 * time.Hour,
	})
	t.now = func() time.Time { return *now }
	return t
}

func TestCooldownExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := New(config.CooldownConfig{StopLoss: time.Hour, TakeProfit: time.Hour, ManualSell: time.Hour})
	tracker.now = func() time.Time { return now }

	tracker.Set("BTCUSDT", ReasonTakeProfit)
	now = now.Add(30 * time.Minute)
	if _, active := tracker.Active("BTCUSDT"); !active {
		t.Fatalf("expected cooldown active at +30m")
	}
	now = now.Add(31 * time.Minute)
	if _, active := tracker.Active("BTCUSDT"); active {
		t.Fatalf("expected cooldown expired at +61m")
	}
	if len(tracker.Entries()) != 0 {
		t.Fatalf("expected lazy eviction on lookup")
	}
}

func TestReasonDurations(t *testing.T) {
	now := time.Now()
	tracker := newTestTracker(&now)
	if tracker.Duration(ReasonStopLoss) <= tracker.Duration(ReasonManualSell) {
		t.Fatalf("stop-loss cooldown should outlast manual-sell cooldown")
	}
	if tracker.Duration(ReasonManualSell) <= tracker.Duration(ReasonTakeProfit) {
		t.Fatalf("manual-sell cooldown should outlast take-profit cooldown")
	}
}

func TestRemoveAndClear(t *testing.T) {
	now := time.Now()
	tracker := newTestTracker(&now)
	tracker.Set("BTCUSDT", ReasonStopLoss)
	tracker.Set("ETHUSDT", ReasonManualSell)
	if !tracker.Remove("BTCUSDT") {
		t.Fatalf("expected removal of existing cooldown")
	}
	if tracker.Remove("BTCUSDT") {
		t.Fatalf("expected second removal to report missing entry")
	}
	tracker.Clear()
	if len(tracker.Entries()) != 0 {
		t.Fatalf("expected empty tracker after clear")
	}
}
