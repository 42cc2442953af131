package api

import (
	"fmt"
	"math"
	"net/http"
)

type tradeJSON struct {
	T         int64   `json:"t"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	USDValue  float64 `json:"usdValue"`
	GridLevel *int    `json:"gridLevel,omitempty"`
	OrderID   *string `json:"orderId,omitempty"`
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	trades, err := s.tradeRepo.Recent(r.Context(), s.clientID, limit)
	if err != nil {
		fmt.Printf("[API] Recent trades query failed: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}

	out := make([]tradeJSON, len(trades))
	for i, t := range trades {
		out[i] = tradeJSON{
			T:         t.ExecutedAt.UnixMilli(),
			Symbol:    t.Symbol,
			Side:      string(t.Side),
			Price:     t.Price,
			Qty:       t.Quantity,
			USDValue:  t.TotalValue,
			GridLevel: t.GridLevel,
			OrderID:   t.OrderID,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out, "count": len(out)})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.ledger.Performance(r.Context(), s.clientID)
	if err != nil {
		fmt.Printf("[API] Performance query failed: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to compute performance")
		return
	}

	// +Inf is not representable in JSON; report it as a flag.
	resp := map[string]any{
		"totalRealizedProfit":   metrics.TotalRealizedProfit,
		"totalTrades":           metrics.TotalTrades,
		"winningTrades":         metrics.WinningTrades,
		"losingTrades":          metrics.LosingTrades,
		"winRate":               metrics.WinRate,
		"averageProfitPerTrade": metrics.AverageProfitPerTrade,
		"bestTrade":             metrics.BestTrade,
		"worstTrade":            metrics.WorstTrade,
		"totalVolume":           metrics.TotalVolume,
		"compoundMultiplier":    metrics.CompoundMultiplier,
		"recent24hProfit":       metrics.Recent24hProfit,
	}
	if math.IsInf(metrics.ProfitFactor, 1) {
		resp["profitFactor"] = nil
		resp["noLosses"] = true
	} else {
		resp["profitFactor"] = metrics.ProfitFactor
	}
	writeJSON(w, http.StatusOK, resp)
}
