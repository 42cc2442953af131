package fifo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gridtraderpro/backend/internal/models"
)

// TradeStore is the persistence surface the ledger needs.
type TradeStore interface {
	Record(ctx context.Context, t *models.Trade) (*models.Trade, error)
	ListByClient(ctx context.Context, clientID int64) ([]models.Trade, error)
}

// CompoundParams control how realized profit scales order sizes.
type CompoundParams struct {
	MinProfitThreshold float64 // below this, multiplier stays 1.0
	ReinvestmentRate   float64 // fraction of profit reinvested
	MaxMultiplier      float64 // safety cap
	BaseOrderSize      float64 // USD size the multiplier scales
}

func DefaultCompoundParams(baseOrderSize float64) CompoundParams {
	return CompoundParams{
		MinProfitThreshold: 25,
		ReinvestmentRate:   0.3,
		MaxMultiplier:      3.0,
		BaseOrderSize:      baseOrderSize,
	}
}

// Ledger owns trade recording and FIFO cost-basis profit accounting.
// All metrics are recomputed from the full trade history on each call;
// nothing derived is ever persisted.
type Ledger struct {
	store    TradeStore
	compound CompoundParams
}

func NewLedger(store TradeStore, compound CompoundParams) *Ledger {
	return &Ledger{store: store, compound: compound}
}

// RecordTrade validates and persists a fill. Recording is the engine's
// first act after a fill is observed; everything downstream derives
// from these rows.
func (l *Ledger) RecordTrade(ctx context.Context, t *models.Trade) (*models.Trade, error) {
	if !t.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", t.Side)
	}
	if t.Symbol == "" {
		return nil, fmt.Errorf("missing symbol")
	}
	if t.Quantity <= 0 || t.Price <= 0 {
		return nil, fmt.Errorf("non-positive quantity or price: qty=%.8f price=%.8f", t.Quantity, t.Price)
	}
	if t.TotalValue == 0 {
		t.TotalValue = t.Quantity * t.Price
	}

	rec, err := l.store.Record(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	fmt.Printf("[FIFO] Recorded %s %s %.8f @ %.8f ($%.2f)\n",
		rec.Side, rec.Symbol, rec.Quantity, rec.Price, rec.TotalValue)
	return rec, nil
}

// Lot is an open (unmatched) portion of a BUY trade.
type Lot struct {
	TradeID    int64
	Symbol     string
	Quantity   float64
	CostPrice  float64
	ExecutedAt time.Time
}

// MatchReport is the outcome of FIFO matching over a trade history.
type MatchReport struct {
	Matches          []models.FIFOMatch
	RemainingLots    []Lot   // open buy inventory, oldest first per symbol
	UnmatchedSellQty float64 // sells with no buy lot to match against
	MalformedSkipped int
}

// ComputeMatches runs FIFO matching over trades in execution order.
// Pure function of its input: no I/O, no mutation of the slice.
// A sell larger than the open buy inventory consumes what exists and the
// remainder is reported as unmatched rather than inventing a phantom lot.
func ComputeMatches(trades []models.Trade) MatchReport {
	var report MatchReport
	lots := make(map[string][]Lot)

	for _, t := range trades {
		if !t.Side.Valid() || t.Quantity <= 0 || t.Price <= 0 {
			report.MalformedSkipped++
			continue
		}

		switch t.Side {
		case models.SideBuy:
			lots[t.Symbol] = append(lots[t.Symbol], Lot{
				TradeID:    t.ID,
				Symbol:     t.Symbol,
				Quantity:   t.Quantity,
				CostPrice:  t.Price,
				ExecutedAt: t.ExecutedAt,
			})

		case models.SideSell:
			remaining := t.Quantity
			queue := lots[t.Symbol]

			for remaining > 1e-12 && len(queue) > 0 {
				oldest := &queue[0]
				matched := math.Min(remaining, oldest.Quantity)

				profit := (t.Price - oldest.CostPrice) * matched
				pct := 0.0
				if oldest.CostPrice > 0 {
					pct = (t.Price - oldest.CostPrice) / oldest.CostPrice * 100
				}
				report.Matches = append(report.Matches, models.FIFOMatch{
					Symbol:           t.Symbol,
					BuyTradeID:       oldest.TradeID,
					SellTradeID:      t.ID,
					QuantityMatched:  matched,
					BuyPrice:         oldest.CostPrice,
					SellPrice:        t.Price,
					Profit:           profit,
					ProfitPercentage: pct,
					SellExecutedAt:   t.ExecutedAt,
				})

				remaining -= matched
				oldest.Quantity -= matched
				if oldest.Quantity <= 1e-12 {
					queue = queue[1:]
				}
			}
			lots[t.Symbol] = queue

			if remaining > 1e-12 {
				report.UnmatchedSellQty += remaining
				fmt.Printf("[FIFO] Unmatched sell: %s %.8f has no buy lot\n", t.Symbol, remaining)
			}
		}
	}

	for _, queue := range lots {
		report.RemainingLots = append(report.RemainingLots, queue...)
	}
	return report
}

// RealizedProfit sums match profit for one client.
func (l *Ledger) RealizedProfit(ctx context.Context, clientID int64) (float64, error) {
	trades, err := l.store.ListByClient(ctx, clientID)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}
	var total float64
	for _, m := range ComputeMatches(trades).Matches {
		total += m.Profit
	}
	return total, nil
}

// Performance derives the full metrics snapshot for a client.
func (l *Ledger) Performance(ctx context.Context, clientID int64) (*models.PerformanceMetrics, error) {
	trades, err := l.store.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	report := ComputeMatches(trades)

	m := &models.PerformanceMetrics{CompoundMultiplier: 1.0}
	if len(report.Matches) == 0 {
		return m, nil
	}

	var grossProfit, grossLoss float64
	cutoff := time.Now().Add(-24 * time.Hour)

	for i, match := range report.Matches {
		m.TotalRealizedProfit += match.Profit
		m.TotalVolume += match.QuantityMatched * match.SellPrice

		switch {
		case match.Profit > 0:
			m.WinningTrades++
			grossProfit += match.Profit
		case match.Profit < 0:
			m.LosingTrades++
			grossLoss += -match.Profit
		}

		if i == 0 || match.Profit > m.BestTrade {
			m.BestTrade = match.Profit
		}
		if i == 0 || match.Profit < m.WorstTrade {
			m.WorstTrade = match.Profit
		}
		if match.SellExecutedAt.After(cutoff) {
			m.Recent24hProfit += match.Profit
		}
	}

	m.TotalTrades = len(report.Matches)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AverageProfitPerTrade = m.TotalRealizedProfit / float64(m.TotalTrades)

	switch {
	case grossLoss == 0 && grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	}

	m.CompoundMultiplier = l.compound.Multiplier(m.TotalRealizedProfit)
	return m, nil
}

// Multiplier maps total realized profit to an order size multiplier.
// Below the threshold nothing compounds; above it, the reinvested share
// of profit grows the base order size up to the cap.
func (p CompoundParams) Multiplier(totalProfit float64) float64 {
	if totalProfit < p.MinProfitThreshold || p.BaseOrderSize <= 0 {
		return 1.0
	}
	mult := 1.0 + totalProfit*p.ReinvestmentRate/p.BaseOrderSize
	if mult > p.MaxMultiplier {
		return p.MaxMultiplier
	}
	return mult
}
