package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/inventory"
	"github.com/gridtraderpro/backend/internal/models"
	"github.com/gridtraderpro/backend/internal/notifications"
)

type fakeTrades struct {
	trades []models.Trade
}

func (f *fakeTrades) ListByClient(ctx context.Context, clientID int64) ([]models.Trade, error) {
	return f.trades, nil
}

type fakeBalances struct {
	balances []exchange.Balance
}

func (f *fakeBalances) GetAccountBalances(ctx context.Context) ([]exchange.Balance, error) {
	return f.balances, nil
}

func seedTrades() []models.Trade {
	t0 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	return []models.Trade{
		{ID: 1, Symbol: "ETHUSDT", Side: models.SideBuy, Quantity: 1.0, Price: 2000, ExecutedAt: t0},
		{ID: 2, Symbol: "ETHUSDT", Side: models.SideSell, Quantity: 0.4, Price: 2100, ExecutedAt: t0.Add(time.Minute)},
	}
	// net asset: 0.6 ETH
}

func notifier() *notifications.Notifier {
	return notifications.NewNotifier(notifications.NewSender("", "test"), 16)
}

func TestReconcile_Consistent(t *testing.T) {
	tracker := inventory.NewTracker()
	if err := tracker.AddSymbol("ETHUSDT", 500, 0.6); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	bal := &fakeBalances{balances: []exchange.Balance{
		{Asset: "ETH", Free: 0.35, Locked: 0.25},
		{Asset: "USDT", Free: 500},
	}}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, bal, tracker, notifier())
	if err := r.Reconcile(context.Background(), []string{"ETHUSDT"}); err != nil {
		t.Fatalf("expected consistent state, got %v", err)
	}
}

func TestReconcile_TrackerDrift(t *testing.T) {
	tracker := inventory.NewTracker()
	// tracker thinks 0.9 ETH, ledger says 0.6
	if err := tracker.AddSymbol("ETHUSDT", 500, 0.9); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, nil, tracker, notifier())
	err := r.Reconcile(context.Background(), []string{"ETHUSDT"})
	if err == nil {
		t.Fatal("expected divergence between ledger and tracker")
	}
	t.Logf("Divergence reported: %v", err)
}

func TestReconcile_ExchangeDrift(t *testing.T) {
	tracker := inventory.NewTracker()
	if err := tracker.AddSymbol("ETHUSDT", 500, 0.6); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	// exchange holds far less than the tracker believes
	bal := &fakeBalances{balances: []exchange.Balance{{Asset: "ETH", Free: 0.1}}}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, bal, tracker, notifier())
	if err := r.Reconcile(context.Background(), []string{"ETHUSDT"}); err == nil {
		t.Fatal("expected divergence between tracker and exchange")
	}
}

func TestReconcile_ToleranceAbsorbsDust(t *testing.T) {
	tracker := inventory.NewTracker()
	// off by 0.5%, inside the 1% tolerance
	if err := tracker.AddSymbol("ETHUSDT", 500, 0.603); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, nil, tracker, notifier())
	if err := r.Reconcile(context.Background(), []string{"ETHUSDT"}); err != nil {
		t.Fatalf("tolerance should absorb 0.5%% drift: %v", err)
	}
}

func TestReconcile_USDTDrift(t *testing.T) {
	tracker := inventory.NewTracker()
	// grid claims $1200 cash but the account only holds $1000
	if err := tracker.AddSymbol("ETHUSDT", 1200, 0.6); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	bal := &fakeBalances{balances: []exchange.Balance{
		{Asset: "ETH", Free: 0.6},
		{Asset: "USDT", Free: 1000},
	}}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, bal, tracker, notifier())
	if err := r.Reconcile(context.Background(), []string{"ETHUSDT"}); err == nil {
		t.Fatal("expected USDT divergence: tracker claims more cash than the account holds")
	}
}

func TestReconcile_ExtraAccountUSDTIsFine(t *testing.T) {
	tracker := inventory.NewTracker()
	if err := tracker.AddSymbol("ETHUSDT", 500, 0.6); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	// account holds far more USDT than the grid uses
	bal := &fakeBalances{balances: []exchange.Balance{
		{Asset: "ETH", Free: 0.6},
		{Asset: "USDT", Free: 5000},
	}}

	r := New(1, 0.01, &fakeTrades{trades: seedTrades()}, bal, tracker, notifier())
	if err := r.Reconcile(context.Background(), []string{"ETHUSDT"}); err != nil {
		t.Fatalf("cash outside the grids must not alarm: %v", err)
	}
}

func TestReconcile_NoSymbols(t *testing.T) {
	r := New(1, 0.01, &fakeTrades{}, nil, inventory.NewTracker(), notifier())
	if err := r.Reconcile(context.Background(), nil); err != nil {
		t.Fatalf("no symbols must be a no-op: %v", err)
	}
}

func TestDiverges(t *testing.T) {
	if diverges(0, 0, 0.01) {
		t.Fatal("zero vs zero must not diverge")
	}
	if diverges(100, 100.5, 0.01) {
		t.Fatal("0.5%% must be inside 1%% tolerance")
	}
	if !diverges(100, 110, 0.01) {
		t.Fatal("10%% must diverge")
	}
}
