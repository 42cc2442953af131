package exchange

import (
	"context"
	"errors"

	"github.com/gridtraderpro/backend/internal/models"
)

var (
	ErrUnknownSymbol = errors.New("exchange: unknown symbol")
	ErrOrderNotFound = errors.New("exchange: order not found")
)

// SymbolRules are the trading constraints the exchange enforces per symbol.
type SymbolRules struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// OrderStatus is the exchange's view of an order at poll time.
// ExecutedQty is authoritative for fill accounting, not the requested size.
type OrderStatus struct {
	Status      string // NEW, PARTIALLY_FILLED, FILLED, CANCELED, ...
	ExecutedQty float64
	Price       float64
}

// MarketFill is the outcome of a market order.
type MarketFill struct {
	ExecutedQty   float64
	ExecutedPrice float64
}

// Balance is one asset on the account.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Client is the capability surface the engine needs from an exchange.
// Order quantity and price are passed as already-serialized strings so the
// caller's precision formatting survives to the wire untouched; a raw
// float64 rendering like "0.35000000000000003" fails the exchange's
// price and lot-size filters.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price string) (orderID string, err error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity string) (MarketFill, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetAccountBalances(ctx context.Context) ([]Balance, error)
}
