package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			quantity REAL NOT NULL,
			status TEXT NOT NULL,
			exchange_order_id INTEGER NOT NULL DEFAULT 0,
			request_snapshot TEXT NOT NULL DEFAULT '',
			response_snapshot TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			quantity REAL NOT NULL,
			current_price REAL NOT NULL,
			stop_loss_price REAL NOT NULL,
			take_profit_price REAL NOT NULL,
			initial_stop_loss_price REAL NOT NULL,
			highest_price REAL NOT NULL,
			trailing_enabled INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			entry_order_id INTEGER NOT NULL DEFAULT 0,
			exit_order_id INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL,
			signal TEXT NOT NULL,
			score REAL NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) InsertOrder(ctx context.Context, order *state.OrderRecord) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO orders
		(symbol, side, type, quantity, status, exchange_order_id, request_snapshot, response_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.Symbol, order.Side, order.Type, order.Quantity, order.Status,
		order.ExchangeOrderID, order.RequestSnapshot, order.ResponseSnapshot, order.CreatedAt)
	if err != nil {
		return err
	}
	order.ID, err = res.LastInsertId()
	return err
}

func (s *Store) Orders(ctx context.Context, symbol string, limit int) ([]state.OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, symbol, side, type, quantity, status, exchange_order_id, request_snapshot, response_snapshot, created_at
		FROM orders`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.OrderRecord
	for rows.Next() {
		var rec state.OrderRecord
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.Type, &rec.Quantity, &rec.Status,
			&rec.ExchangeOrderID, &rec.RequestSnapshot, &rec.ResponseSnapshot, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CreatePosition(ctx context.Context, pos *position.Position) error {
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO positions
		(symbol, side, entry_price, quantity, current_price, stop_loss_price, take_profit_price,
		 initial_stop_loss_price, highest_price, trailing_enabled, status, entry_order_id, exit_order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Quantity, pos.CurrentPrice, pos.StopLossPrice,
		pos.TakeProfitPrice, pos.InitialStopLossPrice, pos.HighestPrice, boolToInt(pos.TrailingEnabled),
		string(pos.Status), pos.EntryOrderID, pos.ExitOrderID, pos.CreatedAt)
	if err != nil {
		return err
	}
	pos.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdatePosition(ctx context.Context, pos *position.Position) error {
	var closedAt any
	if !pos.ClosedAt.IsZero() {
		closedAt = pos.ClosedAt
	}
	_, err := s.db.ExecContext(ctx, `UPDATE positions SET
		current_price = ?, stop_loss_price = ?, take_profit_price = ?, highest_price = ?,
		trailing_enabled = ?, status = ?, exit_order_id = ?, closed_at = ?
		WHERE id = ?`,
		pos.CurrentPrice, pos.StopLossPrice, pos.TakeProfitPrice, pos.HighestPrice,
		boolToInt(pos.TrailingEnabled), string(pos.Status), pos.ExitOrderID, closedAt, pos.ID)
	return err
}

const positionColumns = `id, symbol, side, entry_price, quantity, current_price, stop_loss_price,
	take_profit_price, initial_stop_loss_price, highest_price, trailing_enabled, status,
	entry_order_id, exit_order_id, created_at, closed_at`

func (s *Store) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY id`, string(position.StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *Store) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE symbol = ? AND status = ?`,
		symbol, string(position.StatusOpen)).Scan(&count)
	return count, err
}

func (s *Store) Positions(ctx context.Context, limit int) ([]*position.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]*position.Position, error) {
	var out []*position.Position
	for rows.Next() {
		var pos position.Position
		var trailing int
		var status string
		var closedAt sql.NullTime
		if err := rows.Scan(&pos.ID, &pos.Symbol, &pos.Side, &pos.EntryPrice, &pos.Quantity,
			&pos.CurrentPrice, &pos.StopLossPrice, &pos.TakeProfitPrice, &pos.InitialStopLossPrice,
			&pos.HighestPrice, &trailing, &status, &pos.EntryOrderID, &pos.ExitOrderID,
			&pos.CreatedAt, &closedAt); err != nil {
			return nil, err
		}
		pos.TrailingEnabled = trailing != 0
		pos.Status = position.Status(status)
		if closedAt.Valid {
			pos.ClosedAt = closedAt.Time
		}
		out = append(out, &pos)
	}
	return out, rows.Err()
}

func (s *Store) AppendDecision(ctx context.Context, decision state.DecisionRecord) error {
	createdAt := decision.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions (symbol, strategy, signal, score, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		decision.Symbol, decision.Strategy, decision.Signal, decision.Score, decision.Reason, createdAt)
	return err
}

func (s *Store) SaveSnapshot(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO snapshots (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		payload, time.Now().UTC())
	return err
}

func (s *Store) LoadSnapshot(ctx context.Context) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
