package inventory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNoTracking        = errors.New("inventory: symbol not tracked")
	ErrInsufficientFunds = errors.New("inventory: insufficient USDT")
	ErrInsufficientAsset = errors.New("inventory: insufficient asset")
	ErrInconsistent      = errors.New("inventory: inconsistent state")
)

// FeeBuffer is the headroom required on top of a buy's notional so the
// exchange fee can never push the account negative.
const FeeBuffer = 0.01

// Inventory is the fixed-shape per-symbol balance record. All fields are
// plain floats; there is no loosely-typed representation anywhere.
type Inventory struct {
	Symbol        string
	USDTBalance   float64
	AssetBalance  float64
	ReservedUSDT  float64
	ReservedAsset float64
}

// Snapshot is a read-only copy of one symbol's inventory with derived
// availability.
type Snapshot struct {
	Symbol         string  `json:"symbol"`
	USDTBalance    float64 `json:"usdtBalance"`
	AssetBalance   float64 `json:"assetBalance"`
	ReservedUSDT   float64 `json:"reservedUsdt"`
	ReservedAsset  float64 `json:"reservedAsset"`
	AvailableUSDT  float64 `json:"availableUsdt"`
	AvailableAsset float64 `json:"availableAsset"`
}

// Tracker holds per-symbol inventory with reservation accounting.
// Every check-and-mutate pair runs under one lock acquisition, so a
// passed precondition can never be invalidated before the mutation.
type Tracker struct {
	mu       sync.Mutex
	balances map[string]*Inventory
}

func NewTracker() *Tracker {
	return &Tracker{balances: make(map[string]*Inventory)}
}

// AddSymbol starts tracking a symbol. It is the only way tracking begins;
// every other operation on an untracked symbol fails with ErrNoTracking.
func (t *Tracker) AddSymbol(symbol string, usdtBalance, assetBalance float64) error {
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if usdtBalance < 0 || assetBalance < 0 {
		return fmt.Errorf("negative initial balance for %s", symbol)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.balances[symbol]; exists {
		return fmt.Errorf("symbol %s already tracked", symbol)
	}
	t.balances[symbol] = &Inventory{
		Symbol:       symbol,
		USDTBalance:  usdtBalance,
		AssetBalance: assetBalance,
	}
	fmt.Printf("[INV] Tracking %s: $%.2f USDT, %.8f asset\n", symbol, usdtBalance, assetBalance)
	return nil
}

// SetBalances overwrites a tracked symbol's balances, clearing reservations.
// Used by startup recovery and reconciliation, never mid-flight.
func (t *Tracker) SetBalances(symbol string, usdtBalance, assetBalance float64) error {
	if usdtBalance < 0 || assetBalance < 0 {
		return fmt.Errorf("negative balance for %s", symbol)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}
	inv.USDTBalance = usdtBalance
	inv.AssetBalance = assetBalance
	inv.ReservedUSDT = 0
	inv.ReservedAsset = 0
	return nil
}

// CanPlaceBuy reports whether available USDT covers the notional plus the
// fee buffer. The reason string explains a false result.
func (t *Tracker) CanPlaceBuy(symbol string, notional float64) (bool, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return false, "", fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	required := notional * (1 + FeeBuffer)
	available := inv.USDTBalance - inv.ReservedUSDT
	if available < required {
		return false, fmt.Sprintf("need $%.2f (incl. %.0f%% fee buffer), $%.2f available",
			required, FeeBuffer*100, available), nil
	}
	return true, "", nil
}

// CanPlaceSell reports whether available asset covers the quantity.
func (t *Tracker) CanPlaceSell(symbol string, quantity float64) (bool, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return false, "", fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	available := inv.AssetBalance - inv.ReservedAsset
	if available < quantity {
		return false, fmt.Sprintf("need %.8f asset, %.8f available", quantity, available), nil
	}
	return true, "", nil
}

// ReserveBuy earmarks USDT (notional plus fee buffer) for an open buy order.
// Check and increment happen atomically.
func (t *Tracker) ReserveBuy(symbol string, notional float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	required := notional * (1 + FeeBuffer)
	if inv.USDTBalance-inv.ReservedUSDT < required {
		return fmt.Errorf("%w: need $%.2f, $%.2f available",
			ErrInsufficientFunds, required, inv.USDTBalance-inv.ReservedUSDT)
	}
	inv.ReservedUSDT += required
	return nil
}

// ReserveSell earmarks asset for an open sell order.
func (t *Tracker) ReserveSell(symbol string, quantity float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	if inv.AssetBalance-inv.ReservedAsset < quantity {
		return fmt.Errorf("%w: need %.8f, %.8f available",
			ErrInsufficientAsset, quantity, inv.AssetBalance-inv.ReservedAsset)
	}
	inv.ReservedAsset += quantity
	return nil
}

// ReleaseBuy returns a buy reservation after a cancel or failed placement.
// Floors at zero rather than going negative.
func (t *Tracker) ReleaseBuy(symbol string, notional float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	inv.ReservedUSDT -= notional * (1 + FeeBuffer)
	if inv.ReservedUSDT < 0 {
		inv.ReservedUSDT = 0
	}
	return nil
}

// ReleaseSell returns a sell reservation.
func (t *Tracker) ReleaseSell(symbol string, quantity float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	inv.ReservedAsset -= quantity
	if inv.ReservedAsset < 0 {
		inv.ReservedAsset = 0
	}
	return nil
}

// ApplyFill moves balances for an executed order and consumes its
// reservation. isBuy=true: USDT out, asset in. All would-be-negative
// outcomes are rejected before any field changes, so a failed ApplyFill
// leaves the inventory untouched.
func (t *Tracker) ApplyFill(symbol string, isBuy bool, quantity, price float64) error {
	if quantity <= 0 || price <= 0 {
		return fmt.Errorf("invalid fill: qty=%.8f price=%.8f", quantity, price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}

	notional := quantity * price
	if isBuy {
		if inv.USDTBalance < notional {
			return fmt.Errorf("%w: buy fill of $%.2f exceeds USDT balance $%.2f",
				ErrInconsistent, notional, inv.USDTBalance)
		}
		reserved := notional * (1 + FeeBuffer)
		inv.USDTBalance -= notional
		inv.AssetBalance += quantity
		inv.ReservedUSDT -= reserved
		if inv.ReservedUSDT < 0 {
			inv.ReservedUSDT = 0
		}
	} else {
		if inv.AssetBalance < quantity {
			return fmt.Errorf("%w: sell fill of %.8f exceeds asset balance %.8f",
				ErrInconsistent, quantity, inv.AssetBalance)
		}
		inv.AssetBalance -= quantity
		inv.USDTBalance += notional
		inv.ReservedAsset -= quantity
		if inv.ReservedAsset < 0 {
			inv.ReservedAsset = 0
		}
	}
	return nil
}

// Status returns a copy of one symbol's inventory.
func (t *Tracker) Status(symbol string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.balances[symbol]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}
	return snapshot(inv), nil
}

// Symbols lists tracked symbols.
func (t *Tracker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.balances))
	for s := range t.balances {
		out = append(out, s)
	}
	return out
}

// Remove stops tracking a symbol, normally when its grid stops.
func (t *Tracker) Remove(symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.balances[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrNoTracking, symbol)
	}
	delete(t.balances, symbol)
	return nil
}

func snapshot(inv *Inventory) Snapshot {
	return Snapshot{
		Symbol:         inv.Symbol,
		USDTBalance:    inv.USDTBalance,
		AssetBalance:   inv.AssetBalance,
		ReservedUSDT:   inv.ReservedUSDT,
		ReservedAsset:  inv.ReservedAsset,
		AvailableUSDT:  inv.USDTBalance - inv.ReservedUSDT,
		AvailableAsset: inv.AssetBalance - inv.ReservedAsset,
	}
}
