package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/gridtraderpro/backend/internal/models"
	"github.com/gridtraderpro/backend/internal/rules"
)

// GridLevel is one rung of the ladder. Level is negative below the center
// (buys) and positive above (sells); zero is never used.
type GridLevel struct {
	Level         int
	Side          models.Side
	Price         float64
	Quantity      float64
	OrderSizeUSD  float64
	SpacingFactor float64

	// Mutable order state, owned by the engine. ReservedUSD is the notional
	// a live buy order holds reserved; OrderSizeUSD stays the build-time
	// budget and is never touched after construction.
	OrderID      string
	ReservedUSD  float64
	Filled       bool
	FillPrice    float64
	FillQuantity float64
}

// GridConfig is a fully built ladder around a center price.
type GridConfig struct {
	Symbol        string
	TotalCapital  float64
	CenterPrice   float64
	GridSpacing   float64
	BaseOrderSize float64
	BuyLevels     []GridLevel // sorted by price descending (closest to center first)
	SellLevels    []GridLevel // sorted by price ascending
}

// BuildParams are the inputs to BuildLevels.
type BuildParams struct {
	Symbol         string
	CenterPrice    float64
	TotalCapital   float64
	GridSpacing    float64 // fractional, e.g. 0.025
	LevelsPerSide  int
	Multiplier     float64 // compound multiplier, >= 1
	NotionalSafety float64 // margin over min notional when rescuing, 0 = default
	Rules          rules.Rules
}

const (
	// Outer levels widen: level i sits at spacing*(1 + i*0.1) from center.
	spacingGrowth = 0.1
	// Outer levels also size up: level i uses base*(1 + i*0.05).
	sizeGrowth = 0.05
	// Orders below the exchange minimum are bumped with this margin.
	defaultNotionalSafety = 1.15
	// Fraction of capital left unsized so fee-buffered reservations and
	// replacement orders always stay fundable.
	capitalBuffer = 0.02
)

// BuildLevels constructs the buy and sell ladder around the center price.
// Half the capital funds buys; the asset bought at start funds sells.
func BuildLevels(p BuildParams) (*GridConfig, error) {
	if p.CenterPrice <= 0 {
		return nil, fmt.Errorf("center price must be positive, got %.8f", p.CenterPrice)
	}
	if p.TotalCapital <= 0 {
		return nil, fmt.Errorf("total capital must be positive, got %.2f", p.TotalCapital)
	}
	if p.GridSpacing <= 0 || p.GridSpacing >= 0.2 {
		return nil, fmt.Errorf("grid spacing %.4f out of range (0, 0.2)", p.GridSpacing)
	}
	if p.LevelsPerSide < 1 {
		return nil, fmt.Errorf("levels per side must be >= 1, got %d", p.LevelsPerSide)
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.NotionalSafety <= 1 {
		p.NotionalSafety = defaultNotionalSafety
	}

	// Total size factor across one side, used to split capital so the whole
	// ladder is fundable.
	var sizeFactorSum float64
	for i := 1; i <= p.LevelsPerSide; i++ {
		sizeFactorSum += 1 + float64(i)*sizeGrowth
	}
	base := p.TotalCapital / 2 * (1 - capitalBuffer) / sizeFactorSum * p.Multiplier

	cfg := &GridConfig{
		Symbol:        p.Symbol,
		TotalCapital:  p.TotalCapital,
		CenterPrice:   p.CenterPrice,
		GridSpacing:   p.GridSpacing,
		BaseOrderSize: base,
	}

	// On tick-coarse symbols the percentage spacing can collapse adjacent
	// levels onto the same tick, so each level is clamped to sit at least
	// one tick past its neighbor, walking outward from the center.
	tick := p.Rules.TickSize
	buyCap := rules.RoundToTick(p.CenterPrice, tick)
	if buyCap >= p.CenterPrice*(1-1e-9) {
		buyCap -= tick
	}
	sellFloor := rules.RoundToTick(p.CenterPrice, tick)
	if sellFloor <= p.CenterPrice*(1+1e-9) {
		sellFloor += tick
	}

	for i := 1; i <= p.LevelsPerSide; i++ {
		spacing := p.GridSpacing * (1 + float64(i)*spacingGrowth)
		sizeUSD := base * (1 + float64(i)*sizeGrowth)

		buyPrice := rules.RoundToTick(p.CenterPrice*(1-spacing), tick)
		if buyPrice > buyCap+tick/2 {
			buyPrice = buyCap
		}
		if buyPrice < tick/2 {
			return nil, fmt.Errorf("tick size %.8f too coarse for %d buy levels below %.8f",
				tick, p.LevelsPerSide, p.CenterPrice)
		}
		buy, err := buildLevel(-i, models.SideBuy, buyPrice, sizeUSD, spacing, p.NotionalSafety, p.Rules)
		if err != nil {
			return nil, fmt.Errorf("buy level %d: %w", i, err)
		}
		buyCap = buy.Price - tick

		sellPrice := rules.RoundToTick(p.CenterPrice*(1+spacing), tick)
		if sellPrice < sellFloor-tick/2 {
			sellPrice = sellFloor
		}
		sell, err := buildLevel(i, models.SideSell, sellPrice, sizeUSD, spacing, p.NotionalSafety, p.Rules)
		if err != nil {
			return nil, fmt.Errorf("sell level %d: %w", i, err)
		}
		sellFloor = sell.Price + tick

		cfg.BuyLevels = append(cfg.BuyLevels, buy)
		cfg.SellLevels = append(cfg.SellLevels, sell)
	}

	// Closest-to-center first for buys (price desc); sells are already asc.
	sort.Slice(cfg.BuyLevels, func(a, b int) bool {
		return cfg.BuyLevels[a].Price > cfg.BuyLevels[b].Price
	})

	if err := cfg.Validate(p.LevelsPerSide); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildLevel(level int, side models.Side, price, sizeUSD, spacing, safety float64, r rules.Rules) (GridLevel, error) {
	if price <= 0 {
		return GridLevel{}, fmt.Errorf("non-positive level price %.8f", price)
	}

	// Rescue sub-minimum orders instead of failing the whole ladder.
	if sizeUSD < r.MinNotional {
		sizeUSD = r.MinNotional * safety
	}

	v, err := r.ValidateOrder(price, sizeUSD/price)
	if err != nil {
		return GridLevel{}, err
	}

	return GridLevel{
		Level:         level,
		Side:          side,
		Price:         v.Price,
		Quantity:      v.Quantity,
		OrderSizeUSD:  v.Notional,
		SpacingFactor: spacing,
	}, nil
}

// Validate enforces the structural invariants of a built grid: the right
// count per side, strict monotonicity, and no overlap through the center.
func (g *GridConfig) Validate(levelsPerSide int) error {
	if len(g.BuyLevels) != levelsPerSide || len(g.SellLevels) != levelsPerSide {
		return fmt.Errorf("expected %d levels per side, got %d buys / %d sells",
			levelsPerSide, len(g.BuyLevels), len(g.SellLevels))
	}

	maxBuy := g.BuyLevels[0].Price
	minSell := g.SellLevels[0].Price
	if !(maxBuy < g.CenterPrice && g.CenterPrice < minSell) {
		return fmt.Errorf("grid overlaps center: max buy %.8f, center %.8f, min sell %.8f",
			maxBuy, g.CenterPrice, minSell)
	}

	for i := 1; i < len(g.BuyLevels); i++ {
		if g.BuyLevels[i].Price >= g.BuyLevels[i-1].Price {
			return fmt.Errorf("buy levels not strictly descending at index %d", i)
		}
	}
	for i := 1; i < len(g.SellLevels); i++ {
		if g.SellLevels[i].Price <= g.SellLevels[i-1].Price {
			return fmt.Errorf("sell levels not strictly ascending at index %d", i)
		}
	}
	return nil
}

// AllLevels returns pointers to every level, buys then sells, for callers
// that mutate order state in place.
func (g *GridConfig) AllLevels() []*GridLevel {
	out := make([]*GridLevel, 0, len(g.BuyLevels)+len(g.SellLevels))
	for i := range g.BuyLevels {
		out = append(out, &g.BuyLevels[i])
	}
	for i := range g.SellLevels {
		out = append(out, &g.SellLevels[i])
	}
	return out
}

// FindLevel returns the level with the given index, or nil.
func (g *GridConfig) FindLevel(level int) *GridLevel {
	for _, l := range g.AllLevels() {
		if l.Level == level {
			return l
		}
	}
	return nil
}

// Stats summarizes a grid for logging and the API.
type Stats struct {
	Symbol        string     `json:"symbol"`
	CenterPrice   float64    `json:"centerPrice"`
	LevelsPerSide int        `json:"levelsPerSide"`
	OpenOrders    int        `json:"openOrders"`
	FilledLevels  int        `json:"filledLevels"`
	CommittedUSD  float64    `json:"committedUsd"`
	PriceRange    [2]float64 `json:"priceRange"`
}

func (g *GridConfig) Stats() Stats {
	s := Stats{
		Symbol:        g.Symbol,
		CenterPrice:   g.CenterPrice,
		LevelsPerSide: len(g.BuyLevels),
	}
	for _, l := range g.AllLevels() {
		if l.OrderID != "" {
			s.OpenOrders++
			s.CommittedUSD += l.Price * l.Quantity
		}
		if l.Filled {
			s.FilledLevels++
		}
	}
	if len(g.BuyLevels) > 0 && len(g.SellLevels) > 0 {
		lowest := g.BuyLevels[len(g.BuyLevels)-1].Price
		highest := g.SellLevels[len(g.SellLevels)-1].Price
		s.PriceRange = [2]float64{lowest, highest}
	}
	return s
}

// Deviation is the fractional distance of a price from the grid center.
func (g *GridConfig) Deviation(price float64) float64 {
	if g.CenterPrice <= 0 {
		return 0
	}
	return math.Abs(price-g.CenterPrice) / g.CenterPrice
}
