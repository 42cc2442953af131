package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridtraderpro/backend/internal/models"
)

// GridOrderRepo mirrors in-flight exchange orders so active grids can be
// rebuilt after a restart.
type GridOrderRepo struct {
	pool *pgxpool.Pool
}

func NewGridOrderRepo(pool *pgxpool.Pool) *GridOrderRepo {
	return &GridOrderRepo{pool: pool}
}

func (r *GridOrderRepo) Upsert(ctx context.Context, o *models.GridOrder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO grid_orders
		 (order_id, client_id, symbol, side, price, quantity, grid_level, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (order_id) DO UPDATE SET
		   side = EXCLUDED.side,
		   price = EXCLUDED.price,
		   quantity = EXCLUDED.quantity,
		   grid_level = EXCLUDED.grid_level,
		   status = EXCLUDED.status`,
		o.OrderID, o.ClientID, o.Symbol, o.Side, o.Price, o.Quantity,
		o.GridLevel, o.Status,
	)
	return err
}

func (r *GridOrderRepo) MarkFilled(ctx context.Context, orderID string, filledAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE grid_orders SET status = $1, filled_at = $2 WHERE order_id = $3`,
		models.OrderStatusFilled, filledAt, orderID,
	)
	return err
}

func (r *GridOrderRepo) MarkCanceled(ctx context.Context, orderID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE grid_orders SET status = $1 WHERE order_id = $2`,
		models.OrderStatusCanceled, orderID,
	)
	return err
}

// ListOpen returns orders still marked OPEN for a client, the recovery set
// checked against the exchange on startup.
func (r *GridOrderRepo) ListOpen(ctx context.Context, clientID int64) ([]models.GridOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM grid_orders WHERE client_id = $1 AND status = $2
		 ORDER BY symbol, grid_level`,
		clientID, models.OrderStatusOpen,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GridOrder
	for rows.Next() {
		var o models.GridOrder
		if err := rows.Scan(
			&o.OrderID, &o.ClientID, &o.Symbol, &o.Side, &o.Price, &o.Quantity,
			&o.GridLevel, &o.Status, &o.CreatedAt, &o.FilledAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
