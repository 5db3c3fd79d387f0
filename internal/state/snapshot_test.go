package state

import (
	"context"
	"reflect"
	"testing"
	"time"

	"spot-trend-bot/internal/position"
)

type memoryStore struct {
	items    map[string]string
	snapshot []byte
	hasSnap  bool
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	delete(m.items, key)
	return nil
}

func (m *memoryStore) InsertOrder(ctx context.Context, order *OrderRecord) error { return nil }

func (m *memoryStore) Orders(ctx context.Context, symbol string, limit int) ([]OrderRecord, error) {
	return nil, nil
}

func (m *memoryStore) CreatePosition(ctx context.Context, pos *position.Position) error { return nil }

func (m *memoryStore) UpdatePosition(ctx context.Context, pos *position.Position) error { return nil }

func (m *memoryStore) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	return nil, nil
}

func (m *memoryStore) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

func (m *memoryStore) Positions(ctx context.Context, limit int) ([]*position.Position, error) {
	return nil, nil
}

func (m *memoryStore) AppendDecision(ctx context.Context, decision DecisionRecord) error { return nil }

func (m *memoryStore) SaveSnapshot(ctx context.Context, payload []byte) error {
	m.snapshot = append([]byte(nil), payload...)
	m.hasSnap = true
	return nil
}

func (m *memoryStore) LoadSnapshot(ctx context.Context) ([]byte, bool, error) {
	return m.snapshot, m.hasSnap, nil
}

func (m *memoryStore) Close() error { return nil }

func TestEngineSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := EngineSnapshot{
		Running:        true,
		TradingEnabled: true,
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		SymbolSource:   "manual",
		OpenPositions:  1,
		LastIteration:  time.Unix(1700000000, 0).UTC(),
		LastDurationMS: 412,
		SignalsBuy:     1,
		SignalsHold:    1,
	}
	if err := SaveEngineSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, ok, err := LoadEngineSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	if !got.LastIteration.Equal(snapshot.LastIteration) {
		t.Fatalf("unexpected iteration time: %v", got.LastIteration)
	}
	got.LastIteration = snapshot.LastIteration
	if !reflect.DeepEqual(got, snapshot) {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestEngineSnapshotMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadEngineSnapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
}

func TestEngineSnapshotInvalid(t *testing.T) {
	store := &memoryStore{snapshot: []byte{0xc1}, hasSnap: true}
	_, _, err := LoadEngineSnapshot(context.Background(), store)
	if err == nil {
		t.Fatalf("expected error for invalid snapshot payload")
	}
}
