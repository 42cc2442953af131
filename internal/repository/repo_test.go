package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/gridtraderpro/backend/internal/models"
	"github.com/gridtraderpro/backend/internal/repository"
	"github.com/gridtraderpro/backend/internal/testutil"
)

// ---------- TradeRepo ----------

func TestTradeRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewTradeRepo(pool)
	ctx := context.Background()

	clientID := time.Now().UnixNano() // isolate this run's rows
	orderID := "test-order-1"
	gridLvl := -2

	buy := &models.Trade{
		ClientID:   clientID,
		Symbol:     "ETHUSDT",
		Side:       models.SideBuy,
		Quantity:   0.05,
		Price:      2600.00,
		TotalValue: 130.00,
		OrderID:    &orderID,
		GridLevel:  &gridLvl,
		ExecutedAt: time.Now().Add(-time.Minute),
	}
	recorded, err := repo.Record(ctx, buy)
	if err != nil {
		t.Fatalf("Record buy: %v", err)
	}
	if recorded.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if recorded.Side != models.SideBuy {
		t.Fatalf("side mismatch: got %s", recorded.Side)
	}
	t.Logf("Recorded buy: id=%d qty=%.4f @ %.2f", recorded.ID, recorded.Quantity, recorded.Price)

	sell := &models.Trade{
		ClientID:   clientID,
		Symbol:     "ETHUSDT",
		Side:       models.SideSell,
		Quantity:   0.05,
		Price:      2665.00,
		TotalValue: 133.25,
		ExecutedAt: time.Now(),
	}
	if _, err := repo.Record(ctx, sell); err != nil {
		t.Fatalf("Record sell: %v", err)
	}

	// ListByClient preserves execution order
	trades, err := repo.ListByClient(ctx, clientID)
	if err != nil {
		t.Fatalf("ListByClient: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Side != models.SideBuy || trades[1].Side != models.SideSell {
		t.Fatal("trades not in execution order")
	}
	if trades[0].OrderID == nil || *trades[0].OrderID != orderID {
		t.Fatal("order_id not round-tripped")
	}
	if trades[0].GridLevel == nil || *trades[0].GridLevel != gridLvl {
		t.Fatal("grid_level not round-tripped")
	}
	if trades[1].OrderID != nil {
		t.Fatal("expected nil order_id on sell")
	}

	// ListBySymbol
	bySym, err := repo.ListBySymbol(ctx, clientID, "ETHUSDT")
	if err != nil {
		t.Fatalf("ListBySymbol: %v", err)
	}
	if len(bySym) != 2 {
		t.Fatalf("expected 2 trades for symbol, got %d", len(bySym))
	}

	// Recent returns newest first
	recent, err := repo.Recent(ctx, clientID, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Side != models.SideSell {
		t.Fatal("Recent did not return the newest trade")
	}
}

// ---------- GridOrderRepo ----------

func TestGridOrderRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewGridOrderRepo(pool)
	ctx := context.Background()

	clientID := time.Now().UnixNano()
	orderID := "test-grid-order-" + time.Now().Format("150405.000000")

	order := &models.GridOrder{
		OrderID:   orderID,
		ClientID:  clientID,
		Symbol:    "SOLUSDT",
		Side:      models.SideBuy,
		Price:     148.500,
		Quantity:  0.81,
		GridLevel: -1,
		Status:    models.OrderStatusOpen,
	}
	if err := repo.Upsert(ctx, order); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	open, err := repo.ListOpen(ctx, clientID)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open order, got %d", len(open))
	}
	if open[0].OrderID != orderID || open[0].Status != models.OrderStatusOpen {
		t.Fatalf("unexpected open order: %+v", open[0])
	}
	t.Logf("Open order: %s %s %.3f x %.2f (level %d)",
		open[0].Symbol, open[0].Side, open[0].Price, open[0].Quantity, open[0].GridLevel)

	// Upsert is idempotent on order_id
	order.Price = 148.600
	if err := repo.Upsert(ctx, order); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	open, err = repo.ListOpen(ctx, clientID)
	if err != nil {
		t.Fatalf("ListOpen after update: %v", err)
	}
	if len(open) != 1 || open[0].Price != 148.600 {
		t.Fatal("Upsert did not update the existing row")
	}

	// MarkFilled removes it from the open set
	if err := repo.MarkFilled(ctx, orderID, time.Now()); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	open, err = repo.ListOpen(ctx, clientID)
	if err != nil {
		t.Fatalf("ListOpen after fill: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open orders after fill, got %d", len(open))
	}

	// MarkCanceled on a second order
	orderID2 := orderID + "-b"
	order2 := *order
	order2.OrderID = orderID2
	order2.GridLevel = 1
	order2.Side = models.SideSell
	if err := repo.Upsert(ctx, &order2); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}
	if err := repo.MarkCanceled(ctx, orderID2); err != nil {
		t.Fatalf("MarkCanceled: %v", err)
	}
	open, err = repo.ListOpen(ctx, clientID)
	if err != nil {
		t.Fatalf("ListOpen after cancel: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open orders after cancel, got %d", len(open))
	}
}
