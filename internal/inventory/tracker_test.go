package inventory

import (
	"errors"
	"math"
	"testing"
)

func TestAddSymbol(t *testing.T) {
	tr := NewTracker()

	if err := tr.AddSymbol("ADAUSDT", 100, 50); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if err := tr.AddSymbol("ADAUSDT", 100, 50); err == nil {
		t.Fatal("duplicate AddSymbol must fail")
	}
	if err := tr.AddSymbol("", 100, 0); err == nil {
		t.Fatal("empty symbol must fail")
	}
	if err := tr.AddSymbol("SOLUSDT", -1, 0); err == nil {
		t.Fatal("negative balance must fail")
	}

	snap, err := tr.Status("ADAUSDT")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.USDTBalance != 100 || snap.AssetBalance != 50 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestUntrackedSymbolOps(t *testing.T) {
	tr := NewTracker()

	if _, _, err := tr.CanPlaceBuy("ETHUSDT", 10); !errors.Is(err, ErrNoTracking) {
		t.Fatalf("CanPlaceBuy: want ErrNoTracking, got %v", err)
	}
	if err := tr.ReserveBuy("ETHUSDT", 10); !errors.Is(err, ErrNoTracking) {
		t.Fatalf("ReserveBuy: want ErrNoTracking, got %v", err)
	}

	// ApplyFill on an untracked symbol must not create or mutate anything
	if err := tr.ApplyFill("ETHUSDT", true, 1, 2000); !errors.Is(err, ErrNoTracking) {
		t.Fatalf("ApplyFill: want ErrNoTracking, got %v", err)
	}
	if len(tr.Symbols()) != 0 {
		t.Fatal("failed operation must not start tracking")
	}
}

func TestCanPlaceBuy_FeeBuffer(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ADAUSDT", 10, 0); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	// $5 of the $10 already reserved
	if err := tr.ReserveBuy("ADAUSDT", 5.0/(1+FeeBuffer)); err != nil {
		t.Fatalf("ReserveBuy: %v", err)
	}

	// $6 notional needs $6.06 with the fee buffer; only $5 is available
	ok, reason, err := tr.CanPlaceBuy("ADAUSDT", 6.0)
	if err != nil {
		t.Fatalf("CanPlaceBuy: %v", err)
	}
	if ok {
		t.Fatal("expected false with only $5 available")
	}
	t.Logf("Rejected: %s", reason)

	ok, _, err = tr.CanPlaceBuy("ADAUSDT", 4.0)
	if err != nil || !ok {
		t.Fatalf("expected $4 buy to pass: ok=%v err=%v", ok, err)
	}
}

func TestReservationConservation(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ETHUSDT", 1000, 2); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	// reserve then release nets to zero
	if err := tr.ReserveBuy("ETHUSDT", 100); err != nil {
		t.Fatalf("ReserveBuy: %v", err)
	}
	if err := tr.ReleaseBuy("ETHUSDT", 100); err != nil {
		t.Fatalf("ReleaseBuy: %v", err)
	}
	snap, _ := tr.Status("ETHUSDT")
	if snap.ReservedUSDT != 0 {
		t.Fatalf("reserved USDT = %.8f after release, want 0", snap.ReservedUSDT)
	}

	// reserve then fill also nets to zero
	if err := tr.ReserveSell("ETHUSDT", 1); err != nil {
		t.Fatalf("ReserveSell: %v", err)
	}
	if err := tr.ApplyFill("ETHUSDT", false, 1, 2500); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	snap, _ = tr.Status("ETHUSDT")
	if snap.ReservedAsset != 0 {
		t.Fatalf("reserved asset = %.8f after fill, want 0", snap.ReservedAsset)
	}
	if snap.AssetBalance != 1 || snap.USDTBalance != 3500 {
		t.Fatalf("balances after sell fill: %+v", snap)
	}
}

func TestReserveRejectsOvercommit(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ETHUSDT", 100, 1); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	if err := tr.ReserveBuy("ETHUSDT", 99.5); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if err := tr.ReserveSell("ETHUSDT", 1.5); !errors.Is(err, ErrInsufficientAsset) {
		t.Fatalf("want ErrInsufficientAsset, got %v", err)
	}

	// failed reservations leave state untouched
	snap, _ := tr.Status("ETHUSDT")
	if snap.ReservedUSDT != 0 || snap.ReservedAsset != 0 {
		t.Fatalf("failed reserve mutated state: %+v", snap)
	}
}

func TestApplyFill_BuyMovesBalances(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ETHUSDT", 1000, 0); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if err := tr.ReserveBuy("ETHUSDT", 200); err != nil {
		t.Fatalf("ReserveBuy: %v", err)
	}
	if err := tr.ApplyFill("ETHUSDT", true, 0.1, 2000); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	snap, _ := tr.Status("ETHUSDT")
	if snap.USDTBalance != 800 {
		t.Fatalf("USDT = %.2f, want 800", snap.USDTBalance)
	}
	if math.Abs(snap.AssetBalance-0.1) > 1e-12 {
		t.Fatalf("asset = %.8f, want 0.1", snap.AssetBalance)
	}
	if snap.ReservedUSDT != 0 {
		t.Fatalf("reserved USDT = %.8f, want 0", snap.ReservedUSDT)
	}
}

func TestApplyFill_InconsistentRejectedWithoutMutation(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ETHUSDT", 50, 0.5); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	// buy fill larger than the USDT balance
	if err := tr.ApplyFill("ETHUSDT", true, 1, 2000); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("want ErrInconsistent, got %v", err)
	}
	// sell fill larger than the asset balance
	if err := tr.ApplyFill("ETHUSDT", false, 1, 2000); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("want ErrInconsistent, got %v", err)
	}

	snap, _ := tr.Status("ETHUSDT")
	if snap.USDTBalance != 50 || snap.AssetBalance != 0.5 {
		t.Fatalf("rejected fill mutated balances: %+v", snap)
	}
}

func TestNonNegativityUnderSequences(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("SOLUSDT", 500, 10); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	steps := []func() error{
		func() error { return tr.ReserveBuy("SOLUSDT", 100) },
		func() error { return tr.ReserveSell("SOLUSDT", 3) },
		func() error { return tr.ApplyFill("SOLUSDT", true, 0.5, 200) },
		func() error { return tr.ReleaseSell("SOLUSDT", 3) },
		func() error { return tr.ReserveSell("SOLUSDT", 5) },
		func() error { return tr.ApplyFill("SOLUSDT", false, 5, 210) },
		func() error { return tr.ReleaseBuy("SOLUSDT", 100) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		snap, _ := tr.Status("SOLUSDT")
		if snap.USDTBalance < 0 || snap.AssetBalance < 0 ||
			snap.ReservedUSDT < 0 || snap.ReservedAsset < 0 {
			t.Fatalf("negative field after step %d: %+v", i, snap)
		}
	}
}

func TestRemove(t *testing.T) {
	tr := NewTracker()
	if err := tr.AddSymbol("ADAUSDT", 10, 0); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if err := tr.Remove("ADAUSDT"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tr.Remove("ADAUSDT"); !errors.Is(err, ErrNoTracking) {
		t.Fatalf("want ErrNoTracking, got %v", err)
	}
}
