package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridtraderpro/backend/internal/models"
)

type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

// Record appends a trade to the ledger. The table is append-only: there are
// no update or delete paths anywhere in the repository.
func (r *TradeRepo) Record(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	ts := t.ExecutedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO trades
		 (client_id, symbol, side, quantity, price, total_value, order_id, grid_level, executed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING *`,
		t.ClientID, t.Symbol, t.Side, t.Quantity, t.Price, t.TotalValue,
		t.OrderID, t.GridLevel, ts,
	)
	return scanTrade(row)
}

// ListByClient returns all trades for a client in execution order, the input
// shape FIFO matching requires.
func (r *TradeRepo) ListByClient(ctx context.Context, clientID int64) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM trades WHERE client_id = $1 ORDER BY executed_at ASC, id ASC`,
		clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListBySymbol returns trades for one client+symbol in execution order.
func (r *TradeRepo) ListBySymbol(ctx context.Context, clientID int64, symbol string) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM trades WHERE client_id = $1 AND symbol = $2
		 ORDER BY executed_at ASC, id ASC`,
		clientID, symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// Recent returns the most recent trades for a client, newest first.
func (r *TradeRepo) Recent(ctx context.Context, clientID int64, limit int) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM trades WHERE client_id = $1
		 ORDER BY executed_at DESC, id DESC LIMIT $2`,
		clientID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrade(row scannable) (*models.Trade, error) {
	var t models.Trade
	err := row.Scan(
		&t.ID, &t.ClientID, &t.Symbol, &t.Side, &t.Quantity, &t.Price,
		&t.TotalValue, &t.OrderID, &t.GridLevel, &t.ExecutedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTrades(rows rowsIter) ([]models.Trade, error) {
	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(
			&t.ID, &t.ClientID, &t.Symbol, &t.Side, &t.Quantity, &t.Price,
			&t.TotalValue, &t.OrderID, &t.GridLevel, &t.ExecutedAt, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
