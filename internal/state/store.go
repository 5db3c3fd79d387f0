// Package state defines the persistence surface of the bot: a small
// key-value area for flags and runtime parameters, append-only order and
// decision audit logs, and the position lifecycle records.
package state

import (
	"context"
	"time"

	"spot-trend-bot/internal/position"
)

// OrderRecord is one append-only audit entry per submitted order.
type OrderRecord struct {
	ID               int64
	Symbol           string
	Side             string
	Type             string
	Quantity         float64
	Status           string
	ExchangeOrderID  int64
	RequestSnapshot  string
	ResponseSnapshot string
	CreatedAt        time.Time
}

// DecisionRecord is one signal-log entry per evaluated symbol.
type DecisionRecord struct {
	ID        int64
	Symbol    string
	Strategy  string
	Signal    string
	Score     float64
	Reason    string
	CreatedAt time.Time
}

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	InsertOrder(ctx context.Context, order *OrderRecord) error
	Orders(ctx context.Context, symbol string, limit int) ([]OrderRecord, error)

	CreatePosition(ctx context.Context, pos *position.Position) error
	UpdatePosition(ctx context.Context, pos *position.Position) error
	OpenPositions(ctx context.Context) ([]*position.Position, error)
	OpenPositionCount(ctx context.Context, symbol string) (int, error)
	Positions(ctx context.Context, limit int) ([]*position.Position, error)

	AppendDecision(ctx context.Context, decision DecisionRecord) error

	SaveSnapshot(ctx context.Context, payload []byte) error
	LoadSnapshot(ctx context.Context) ([]byte, bool, error)

	Close() error
}
