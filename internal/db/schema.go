package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables the backend needs if they do not exist.
// Idempotent; runs at startup before any repository is used.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			client_id BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			total_value DOUBLE PRECISION NOT NULL,
			order_id TEXT,
			grid_level INTEGER,
			executed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_client_executed
			ON trades (client_id, executed_at)`,
		`CREATE TABLE IF NOT EXISTS grid_orders (
			order_id TEXT PRIMARY KEY,
			client_id BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			grid_level INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			filled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_orders_client_status
			ON grid_orders (client_id, status)`,
	}

	for _, s := range stmts {
		if _, err := p.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	fmt.Println("[DB] Schema verified")
	return nil
}
