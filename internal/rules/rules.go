package rules

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/gridtraderpro/backend/internal/exchange"
)

// Rules are the per-symbol trading constraints plus derived precisions.
type Rules struct {
	Symbol            string
	TickSize          float64
	StepSize          float64
	MinQty            float64
	MinNotional       float64
	PricePrecision    int
	QuantityPrecision int
}

// Source fetches symbol rules from the exchange.
type Source interface {
	GetSymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error)
}

// Cache resolves symbol rules from the exchange and memoizes them.
// Get never fails: when the exchange is unreachable the fallback table
// answers, so order placement math always has constraints to work with.
type Cache struct {
	src Source

	mu    sync.RWMutex
	cache map[string]Rules
}

func NewCache(src Source) *Cache {
	return &Cache{src: src, cache: make(map[string]Rules)}
}

// fallbacks cover the symbols the bot commonly trades; the generic entry
// uses the most conservative constraints.
var fallbacks = map[string]Rules{
	"ETHUSDT": {TickSize: 0.01, StepSize: 0.00001, MinQty: 0.00001, MinNotional: 5},
	"SOLUSDT": {TickSize: 0.001, StepSize: 0.01, MinQty: 0.01, MinNotional: 5},
	"ADAUSDT": {TickSize: 0.0001, StepSize: 0.1, MinQty: 0.1, MinNotional: 5},
}

var genericFallback = Rules{TickSize: 1e-8, StepSize: 1e-8, MinQty: 1e-8, MinNotional: 10}

// Get returns the rules for a symbol, from cache, exchange, or fallback,
// in that order.
func (c *Cache) Get(ctx context.Context, symbol string) Rules {
	c.mu.RLock()
	r, ok := c.cache[symbol]
	c.mu.RUnlock()
	if ok {
		return r
	}

	if c.src != nil {
		sr, err := c.src.GetSymbolRules(ctx, symbol)
		if err == nil {
			r = derive(symbol, sr)
			c.mu.Lock()
			c.cache[symbol] = r
			c.mu.Unlock()
			return r
		}
		fmt.Printf("[RULES] Fetch failed for %s, using fallback: %v\n", symbol, err)
	}

	return Fallback(symbol)
}

// Fallback returns the static rules for a symbol without touching the
// exchange. Fallback results are never cached so a later Get can still
// pick up live values.
func Fallback(symbol string) Rules {
	r, ok := fallbacks[symbol]
	if !ok {
		r = genericFallback
	}
	r.Symbol = symbol
	r.PricePrecision = PrecisionFromStep(r.TickSize)
	r.QuantityPrecision = PrecisionFromStep(r.StepSize)
	return r
}

// Clear drops all cached rules. The next Get per symbol refetches.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]Rules)
	c.mu.Unlock()
	fmt.Println("[RULES] Cache cleared")
}

// Cached returns the symbols currently memoized.
func (c *Cache) Cached() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.cache))
	for s := range c.cache {
		out = append(out, s)
	}
	return out
}

func derive(symbol string, sr exchange.SymbolRules) Rules {
	return Rules{
		Symbol:            symbol,
		TickSize:          sr.TickSize,
		StepSize:          sr.StepSize,
		MinQty:            sr.MinQty,
		MinNotional:       sr.MinNotional,
		PricePrecision:    PrecisionFromStep(sr.TickSize),
		QuantityPrecision: PrecisionFromStep(sr.StepSize),
	}
}

// PrecisionFromStep derives decimal places from a tick or step size.
// Steps of 1 or larger need no decimals.
func PrecisionFromStep(step float64) int {
	if step <= 0 {
		return 8
	}
	if step >= 1 {
		return 0
	}
	s := strconv.FormatFloat(step, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// RoundToTick snaps a price to the nearest tick, never to zero.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return math.Round(price*1e6) / 1e6
	}
	r := math.Round(price/tick) * tick
	if r <= 0 {
		r = tick
	}
	return r
}

// RoundToStep snaps a quantity to the nearest step.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Round(qty/step) * step
}

// ceilToStep rounds a quantity up to the next step boundary.
func ceilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Ceil(qty/step-1e-9) * step
}

// FormatPrice renders a price for the exchange API. Trailing zeros are
// stripped only after the decimal point so whole numbers survive intact.
func FormatPrice(price float64, precision int) string {
	return formatFixed(price, precision)
}

// FormatQuantity renders a quantity for the exchange API with the same
// trailing-zero rule as FormatPrice.
func FormatQuantity(qty float64, precision int) string {
	return formatFixed(qty, precision)
}

func formatFixed(v float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ValidatedOrder is the outcome of ValidateOrder: exchange-legal price and
// quantity plus their string forms.
type ValidatedOrder struct {
	Price          float64
	Quantity       float64
	Notional       float64
	PriceString    string
	QuantityString string
	Adjusted       bool // quantity was bumped to clear min notional
}

// ValidateOrder snaps price and quantity to the symbol's constraints.
// A quantity whose notional falls below the minimum is bumped up (never
// down) to the smallest step multiple that clears it.
func (r Rules) ValidateOrder(price, quantity float64) (ValidatedOrder, error) {
	if price <= 0 {
		return ValidatedOrder{}, fmt.Errorf("invalid price %.8f for %s", price, r.Symbol)
	}
	if quantity <= 0 {
		return ValidatedOrder{}, fmt.Errorf("invalid quantity %.8f for %s", quantity, r.Symbol)
	}

	vp := RoundToTick(price, r.TickSize)
	vq := RoundToStep(quantity, r.StepSize)
	if vq < r.MinQty {
		vq = ceilToStep(r.MinQty, r.StepSize)
	}

	adjusted := false
	if vq*vp < r.MinNotional {
		vq = ceilToStep(r.MinNotional/vp, r.StepSize)
		if vq < r.MinQty {
			vq = ceilToStep(r.MinQty, r.StepSize)
		}
		adjusted = true
	}

	return ValidatedOrder{
		Price:          vp,
		Quantity:       vq,
		Notional:       vp * vq,
		PriceString:    FormatPrice(vp, r.PricePrecision),
		QuantityString: FormatQuantity(vq, r.QuantityPrecision),
		Adjusted:       adjusted,
	}, nil
}
