package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is the append-only source of truth for FIFO matching.
// Rows are written once when an order fills and never mutated.
type Trade struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"clientId"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	TotalValue float64   `json:"totalValue"`
	OrderID    *string   `json:"orderId,omitempty"`
	GridLevel  *int      `json:"gridLevel,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FIFOMatch pairs (part of) a BUY trade with (part of) a SELL trade.
// Derived from the trade history on demand, never stored.
type FIFOMatch struct {
	Symbol           string    `json:"symbol"`
	BuyTradeID       int64     `json:"buyTradeId"`
	SellTradeID      int64     `json:"sellTradeId"`
	QuantityMatched  float64   `json:"quantityMatched"`
	BuyPrice         float64   `json:"buyPrice"`
	SellPrice        float64   `json:"sellPrice"`
	Profit           float64   `json:"profit"`
	ProfitPercentage float64   `json:"profitPercentage"`
	SellExecutedAt   time.Time `json:"sellExecutedAt"`
}

// PerformanceMetrics is a derived snapshot, always recomputable from the
// trade history plus FIFO matches.
type PerformanceMetrics struct {
	TotalRealizedProfit   float64 `json:"totalRealizedProfit"`
	TotalTrades           int     `json:"totalTrades"` // completed matches
	WinningTrades         int     `json:"winningTrades"`
	LosingTrades          int     `json:"losingTrades"`
	WinRate               float64 `json:"winRate"`
	AverageProfitPerTrade float64 `json:"averageProfitPerTrade"`
	BestTrade             float64 `json:"bestTrade"`
	WorstTrade            float64 `json:"worstTrade"`
	TotalVolume           float64 `json:"totalVolume"`
	ProfitFactor          float64 `json:"profitFactor"` // +Inf when no losses
	CompoundMultiplier    float64 `json:"compoundMultiplier"`
	Recent24hProfit       float64 `json:"recent24hProfit"`
}

// GridOrder mirrors in-flight exchange order state for recovery after restart.
type GridOrder struct {
	OrderID   string     `json:"orderId"`
	ClientID  int64      `json:"clientId"`
	Symbol    string     `json:"symbol"`
	Side      Side       `json:"side"`
	Price     float64    `json:"price"`
	Quantity  float64    `json:"quantity"`
	GridLevel int        `json:"gridLevel"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	FilledAt  *time.Time `json:"filledAt,omitempty"`
}

const (
	OrderStatusOpen     = "OPEN"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)
