package reconcile

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/inventory"
	"github.com/gridtraderpro/backend/internal/models"
	"github.com/gridtraderpro/backend/internal/notifications"
)

// TradeSource provides the trade history reconciliation derives truth from.
type TradeSource interface {
	ListByClient(ctx context.Context, clientID int64) ([]models.Trade, error)
}

// BalanceSource reports what the exchange believes the account holds.
type BalanceSource interface {
	GetAccountBalances(ctx context.Context) ([]exchange.Balance, error)
}

// Divergence is one detected mismatch between two views of the same value.
type Divergence struct {
	Symbol   string
	Field    string // "asset" or "usdt"
	Expected float64
	Actual   float64
	Source   string // which pair of views disagreed
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s %s: expected %.8f, actual %.8f (%s)",
		d.Symbol, d.Field, d.Expected, d.Actual, d.Source)
}

// Reconciler is the single authoritative consistency check: it recomputes
// expected holdings from the trade ledger and compares them against the
// tracker and the exchange. Divergences beyond tolerance become integrity
// alerts, replacing any manual repair workflow.
type Reconciler struct {
	clientID  int64
	tolerance float64 // fractional, relative to the larger of the two values
	trades    TradeSource
	balances  BalanceSource
	tracker   *inventory.Tracker
	notifier  *notifications.Notifier
}

func New(
	clientID int64,
	tolerance float64,
	trades TradeSource,
	balances BalanceSource,
	tracker *inventory.Tracker,
	notifier *notifications.Notifier,
) *Reconciler {
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Reconciler{
		clientID:  clientID,
		tolerance: tolerance,
		trades:    trades,
		balances:  balances,
		tracker:   tracker,
		notifier:  notifier,
	}
}

// Reconcile checks every given symbol and reports divergences. The check
// itself never mutates anything; operators decide what a divergence means.
func (r *Reconciler) Reconcile(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	trades, err := r.trades.ListByClient(ctx, r.clientID)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	netAsset := netAssetBySymbol(trades)

	var exchangeAssets map[string]float64
	if r.balances != nil {
		if bals, err := r.balances.GetAccountBalances(ctx); err != nil {
			fmt.Printf("[RECONCILE] Exchange balances unavailable: %v\n", err)
		} else {
			exchangeAssets = assetTotals(bals)
		}
	}

	var divergences []Divergence
	var trackerUSDT float64
	tracked := 0
	for _, symbol := range symbols {
		snap, err := r.tracker.Status(symbol)
		if err != nil {
			fmt.Printf("[RECONCILE] %s not tracked, skipping: %v\n", symbol, err)
			continue
		}
		trackerUSDT += snap.USDTBalance
		tracked++

		// ledger vs tracker
		expected := netAsset[symbol]
		if diverges(expected, snap.AssetBalance, r.tolerance) {
			divergences = append(divergences, Divergence{
				Symbol: symbol, Field: "asset",
				Expected: expected, Actual: snap.AssetBalance,
				Source: "ledger vs tracker",
			})
		}

		// tracker vs exchange
		if exchangeAssets != nil {
			asset := baseAsset(symbol)
			have := exchangeAssets[asset]
			if diverges(snap.AssetBalance, have, r.tolerance) {
				divergences = append(divergences, Divergence{
					Symbol: symbol, Field: "asset",
					Expected: snap.AssetBalance, Actual: have,
					Source: "tracker vs exchange",
				})
			}
		}
	}

	// USDT leg: the grids' combined cash claim must fit in the account.
	// Extra USDT outside the grids is fine; trackers claiming more than the
	// exchange holds is drift.
	if exchangeAssets != nil && tracked > 0 {
		have := exchangeAssets["USDT"]
		if trackerUSDT > have && diverges(trackerUSDT, have, r.tolerance) {
			divergences = append(divergences, Divergence{
				Symbol: "USDT", Field: "usdt",
				Expected: trackerUSDT, Actual: have,
				Source: "tracker vs exchange",
			})
		}
	}

	if len(divergences) == 0 {
		fmt.Printf("[RECONCILE] OK: %d symbols consistent\n", len(symbols))
		return nil
	}

	for _, d := range divergences {
		fmt.Printf("[RECONCILE] DIVERGENCE: %s\n", d)
		r.notifier.Publish(notifications.TradeEvent{
			Kind:    notifications.EventIntegrity,
			Symbol:  d.Symbol,
			Message: d.String(),
		})
	}
	return fmt.Errorf("%d divergences detected", len(divergences))
}

// netAssetBySymbol folds the ledger into net asset per symbol: buys add,
// sells subtract. Matches what FIFO leaves as open inventory plus what
// unmatched sells removed.
func netAssetBySymbol(trades []models.Trade) map[string]float64 {
	report := fifo.ComputeMatches(trades)
	net := make(map[string]float64)
	for _, lot := range report.RemainingLots {
		net[lot.Symbol] += lot.Quantity
	}
	return net
}

// assetTotals sums free+locked per asset.
func assetTotals(bals []exchange.Balance) map[string]float64 {
	out := make(map[string]float64)
	for _, b := range bals {
		out[b.Asset] += b.Free + b.Locked
	}
	return out
}

// baseAsset strips the USDT quote suffix.
func baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT")
}

// diverges compares two values against the relative tolerance, with an
// absolute floor so dust differences never alarm.
func diverges(a, b, tolerance float64) bool {
	diff := math.Abs(a - b)
	if diff < 1e-8 {
		return false
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1e-8 {
		return false
	}
	return diff/scale > tolerance
}
