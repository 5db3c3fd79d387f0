package state

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EngineSnapshot is the compact runtime snapshot the engine persists at
// the end of every iteration, so an operator query or a restart can see
// what the loop last did without replaying the audit tables.
type EngineSnapshot struct {
	Running        bool      `msgpack:"running"`
	TradingEnabled bool      `msgpack:"trading_enabled"`
	Symbols        []string  `msgpack:"symbols"`
	SymbolSource   string    `msgpack:"symbol_source"`
	OpenPositions  int       `msgpack:"open_positions"`
	LastIteration  time.Time `msgpack:"last_iteration"`
	LastDurationMS int64     `msgpack:"last_duration_ms"`
	FetchFailures  int       `msgpack:"fetch_failures"`
	SignalsBuy     int       `msgpack:"signals_buy"`
	SignalsSell    int       `msgpack:"signals_sell"`
	SignalsHold    int       `msgpack:"signals_hold"`
}

func LoadEngineSnapshot(ctx context.Context, store Store) (EngineSnapshot, bool, error) {
	if store == nil {
		return EngineSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, ok, err := store.LoadSnapshot(ctx)
	if err != nil || !ok {
		return EngineSnapshot{}, false, err
	}
	var snapshot EngineSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveEngineSnapshot(ctx context.Context, store Store, snapshot EngineSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.SaveSnapshot(ctx, payload)
}
