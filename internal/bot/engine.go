package bot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/inventory"
	"github.com/gridtraderpro/backend/internal/models"
	"github.com/gridtraderpro/backend/internal/notifications"
	"github.com/gridtraderpro/backend/internal/rules"
	"github.com/gridtraderpro/backend/internal/strategy"
)

// OrderMirror persists in-flight order state for post-restart recovery.
// Mirror failures are logged, never fatal: the exchange stays the source
// of truth for open orders.
type OrderMirror interface {
	Upsert(ctx context.Context, o *models.GridOrder) error
	MarkFilled(ctx context.Context, orderID string, filledAt time.Time) error
	MarkCanceled(ctx context.Context, orderID string) error
}

// PriceSource is an optional fast path for current prices (the websocket
// stream). A miss falls through to the exchange REST endpoint.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// EngineParams are the per-grid trading knobs.
type EngineParams struct {
	ClientID       int64
	Symbol         string
	USDTAmount     float64
	GridSpacing    float64
	ProfitMargin   float64
	LevelsPerSide  int
	NotionalSafety float64

	ResetDeviation float64
	ResetCooldown  time.Duration
	ResetMaxPerDay int
}

// Engine runs one grid for one client+symbol pair. The orchestrator
// guarantees ticks never interleave; the internal mutex additionally
// protects Status reads against in-flight mutations.
type Engine struct {
	params   EngineParams
	exchange exchange.Client
	rules    *rules.Cache
	ledger   *fifo.Ledger
	tracker  *inventory.Tracker
	mirror   OrderMirror
	notifier *notifications.Notifier
	prices   PriceSource

	mu   sync.Mutex
	grid *strategy.GridConfig

	resets resetGuard
}

func NewEngine(
	params EngineParams,
	ex exchange.Client,
	rc *rules.Cache,
	ledger *fifo.Ledger,
	tracker *inventory.Tracker,
	mirror OrderMirror,
	notifier *notifications.Notifier,
	prices PriceSource,
) *Engine {
	return &Engine{
		params:   params,
		exchange: ex,
		rules:    rc,
		ledger:   ledger,
		tracker:  tracker,
		mirror:   mirror,
		notifier: notifier,
		prices:   prices,
	}
}

func (e *Engine) Symbol() string { return e.params.Symbol }

// currentPrice prefers the stream cache and falls back to REST.
func (e *Engine) currentPrice(ctx context.Context) (float64, error) {
	if e.prices != nil {
		if p, ok := e.prices.Price(e.params.Symbol); ok {
			return p, nil
		}
	}
	return e.exchange.GetPrice(ctx, e.params.Symbol)
}

// Start initializes the grid: splits the allocated USDT 50/50 by market
// buying half, registers inventory tracking, builds the ladder around the
// current price, and places every level.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grid != nil {
		return fmt.Errorf("grid for %s already started", e.params.Symbol)
	}

	price, err := e.exchange.GetPrice(ctx, e.params.Symbol)
	if err != nil {
		return fmt.Errorf("initial price: %w", err)
	}
	r := e.rules.Get(ctx, e.params.Symbol)

	// Half the capital becomes base asset so sell levels are funded.
	buyUSD := e.params.USDTAmount / 2
	rawQty := buyUSD / price
	qty := rules.RoundToStep(rawQty, r.StepSize)
	if qty < r.MinQty || qty*price < r.MinNotional {
		return fmt.Errorf("capital $%.2f too small for %s: initial buy below exchange minimum",
			e.params.USDTAmount, e.params.Symbol)
	}

	fill, err := e.exchange.PlaceMarketOrder(ctx, e.params.Symbol, models.SideBuy,
		rules.FormatQuantity(qty, r.QuantityPrecision))
	if err != nil {
		return fmt.Errorf("initial market buy: %w", err)
	}
	if fill.ExecutedQty <= 0 || fill.ExecutedPrice <= 0 {
		return fmt.Errorf("initial market buy returned empty fill for %s", e.params.Symbol)
	}
	fmt.Printf("[BOT] %s initial buy: %.8f @ %.8f\n", e.params.Symbol, fill.ExecutedQty, fill.ExecutedPrice)

	if _, err := e.ledger.RecordTrade(ctx, &models.Trade{
		ClientID:   e.params.ClientID,
		Symbol:     e.params.Symbol,
		Side:       models.SideBuy,
		Quantity:   fill.ExecutedQty,
		Price:      fill.ExecutedPrice,
		ExecutedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("record initial buy: %w", err)
	}

	usdtLeft := e.params.USDTAmount - fill.ExecutedQty*fill.ExecutedPrice
	if usdtLeft < 0 {
		usdtLeft = 0
	}
	if err := e.tracker.AddSymbol(e.params.Symbol, usdtLeft, fill.ExecutedQty); err != nil {
		return fmt.Errorf("start tracking: %w", err)
	}

	grid, err := e.buildGrid(ctx, price, r)
	if err != nil {
		e.tracker.Remove(e.params.Symbol)
		return err
	}
	e.grid = grid

	placed := e.placeLadder(ctx, r)
	fmt.Printf("[GRID] %s started: center %.8f, %d/%d orders placed\n",
		e.params.Symbol, grid.CenterPrice, placed, len(grid.AllLevels()))

	e.notifier.Publish(notifications.TradeEvent{
		Kind:   notifications.EventLifecycle,
		Symbol: e.params.Symbol,
		Message: fmt.Sprintf("grid started with $%.2f, center $%.4f, %d orders",
			e.params.USDTAmount, grid.CenterPrice, placed),
	})
	return nil
}

func (e *Engine) buildGrid(ctx context.Context, center float64, r rules.Rules) (*strategy.GridConfig, error) {
	mult := 1.0
	if metrics, err := e.ledger.Performance(ctx, e.params.ClientID); err == nil {
		mult = metrics.CompoundMultiplier
	}

	grid, err := strategy.BuildLevels(strategy.BuildParams{
		Symbol:         e.params.Symbol,
		CenterPrice:    center,
		TotalCapital:   e.params.USDTAmount,
		GridSpacing:    e.params.GridSpacing,
		LevelsPerSide:  e.params.LevelsPerSide,
		Multiplier:     mult,
		NotionalSafety: e.params.NotionalSafety,
		Rules:          r,
	})
	if err != nil {
		return nil, fmt.Errorf("build levels: %w", err)
	}
	return grid, nil
}

// placeLadder places every unplaced level. Individual failures are logged
// and counted, not fatal: a later tick retries what is still unplaced.
func (e *Engine) placeLadder(ctx context.Context, r rules.Rules) int {
	placed := 0
	for _, level := range e.grid.AllLevels() {
		if level.OrderID != "" || level.Filled {
			continue
		}
		if err := e.placeLevel(ctx, level, r); err != nil {
			fmt.Printf("[GRID] %s level %+d placement failed: %v\n", e.params.Symbol, level.Level, err)
			continue
		}
		placed++
	}
	return placed
}

// placeLevel reserves inventory, places the limit order, and mirrors it.
// The reservation is released when placement fails. OrderSizeUSD is never
// touched here: it is the level's immutable budget, and mutating it would
// compound replacement sizing across retries.
func (e *Engine) placeLevel(ctx context.Context, level *strategy.GridLevel, r rules.Rules) error {
	v, err := r.ValidateOrder(level.Price, level.Quantity)
	if err != nil {
		return err
	}
	level.Price = v.Price
	level.Quantity = v.Quantity

	if level.Side == models.SideBuy {
		if err := e.tracker.ReserveBuy(e.params.Symbol, v.Notional); err != nil {
			return err
		}
	} else {
		if err := e.tracker.ReserveSell(e.params.Symbol, v.Quantity); err != nil {
			return err
		}
	}

	orderID, err := e.exchange.PlaceLimitOrder(ctx, e.params.Symbol, level.Side,
		v.QuantityString, v.PriceString)
	if err != nil {
		if level.Side == models.SideBuy {
			e.tracker.ReleaseBuy(e.params.Symbol, v.Notional)
		} else {
			e.tracker.ReleaseSell(e.params.Symbol, v.Quantity)
		}
		return err
	}
	level.OrderID = orderID
	if level.Side == models.SideBuy {
		level.ReservedUSD = v.Notional
	}

	if err := e.mirror.Upsert(ctx, &models.GridOrder{
		OrderID:   orderID,
		ClientID:  e.params.ClientID,
		Symbol:    e.params.Symbol,
		Side:      level.Side,
		Price:     v.Price,
		Quantity:  v.Quantity,
		GridLevel: level.Level,
		Status:    models.OrderStatusOpen,
	}); err != nil {
		fmt.Printf("[GRID] Mirror upsert failed for %s: %v\n", orderID, err)
	}
	return nil
}

// Tick is one monitoring pass: poll open orders, process fills, place
// replacements, and check the auto-reset condition.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grid == nil {
		return fmt.Errorf("grid for %s not started", e.params.Symbol)
	}

	price, err := e.currentPrice(ctx)
	if err != nil {
		return fmt.Errorf("tick price: %w", err)
	}
	r := e.rules.Get(ctx, e.params.Symbol)

	for _, level := range e.grid.AllLevels() {
		if level.OrderID == "" {
			continue
		}
		status, err := e.exchange.GetOrderStatus(ctx, e.params.Symbol, level.OrderID)
		if err != nil {
			fmt.Printf("[BOT] %s status poll failed for %s: %v\n", e.params.Symbol, level.OrderID, err)
			continue
		}
		switch status.Status {
		case "FILLED":
			e.handleFill(ctx, level, status)
		case "CANCELED", "REJECTED", "EXPIRED":
			e.handleCancel(ctx, level, status)
		}
	}

	// Replacement pass. Separate from fill handling so a failed placement
	// is retried on the next tick instead of losing the level.
	for _, level := range e.grid.AllLevels() {
		if level.Filled && level.OrderID == "" {
			if err := e.placeReplacement(ctx, level, price, r); err != nil {
				fmt.Printf("[BOT] %s replacement for level %+d failed: %v\n",
					e.params.Symbol, level.Level, err)
			}
		}
	}

	return e.maybeReset(ctx, price, r)
}

// handleFill processes one filled order. Ordering is load-bearing:
// the trade is recorded first, inventory second, and only then does the
// level become eligible for a replacement order.
func (e *Engine) handleFill(ctx context.Context, level *strategy.GridLevel, status exchange.OrderStatus) {
	qty := status.ExecutedQty
	if qty <= 0 {
		qty = level.Quantity
	}
	fillPrice := level.Price
	if status.Price > 0 {
		fillPrice = status.Price
	}

	fmt.Printf("[BOT] %s FILL: %s %.8f @ %.8f (level %+d)\n",
		e.params.Symbol, level.Side, qty, fillPrice, level.Level)

	orderID := level.OrderID
	gridLevel := level.Level
	if _, err := e.ledger.RecordTrade(ctx, &models.Trade{
		ClientID:   e.params.ClientID,
		Symbol:     e.params.Symbol,
		Side:       level.Side,
		Quantity:   qty,
		Price:      fillPrice,
		OrderID:    &orderID,
		GridLevel:  &gridLevel,
		ExecutedAt: time.Now(),
	}); err != nil {
		// Leave the level untouched; the next tick sees the fill again and
		// retries the recording before anything else happens.
		fmt.Printf("[BOT] %s trade recording failed, will retry: %v\n", e.params.Symbol, err)
		return
	}

	if err := e.tracker.ApplyFill(e.params.Symbol, level.Side == models.SideBuy, qty, fillPrice); err != nil {
		fmt.Printf("[INV] %s fill apply failed: %v\n", e.params.Symbol, err)
		e.notifier.Publish(notifications.TradeEvent{
			Kind:    notifications.EventIntegrity,
			Symbol:  e.params.Symbol,
			Message: fmt.Sprintf("fill could not be applied to inventory: %v", err),
		})
	}

	e.mirror.MarkFilled(ctx, level.OrderID, time.Now())

	// ApplyFill consumed the executed notional's reservation; any sliver
	// left from price or quantity differences goes back too.
	if level.Side == models.SideBuy {
		if rem := level.ReservedUSD - qty*fillPrice; rem > 0 {
			e.tracker.ReleaseBuy(e.params.Symbol, rem)
		}
		level.ReservedUSD = 0
	}

	level.Filled = true
	level.FillPrice = fillPrice
	level.FillQuantity = qty
	level.OrderID = ""

	profit := 0.0
	if total, err := e.ledger.RealizedProfit(ctx, e.params.ClientID); err == nil {
		profit = total
	}
	e.notifier.Publish(notifications.TradeEvent{
		Kind:      notifications.EventFill,
		Symbol:    e.params.Symbol,
		Side:      level.Side,
		Quantity:  qty,
		Price:     fillPrice,
		GridLevel: level.Level,
		Profit:    profit,
	})
}

// handleCancel winds down an order that ended CANCELED, REJECTED, or
// EXPIRED. A partial execution before the cancel is real: it is recorded
// as a trade and applied to inventory, and only the unexecuted remainder
// of the reservation is released.
func (e *Engine) handleCancel(ctx context.Context, level *strategy.GridLevel, status exchange.OrderStatus) {
	fmt.Printf("[BOT] %s order %s ended %s (executed %.8f)\n",
		e.params.Symbol, level.OrderID, status.Status, status.ExecutedQty)

	if qty := status.ExecutedQty; qty > 0 {
		fillPrice := level.Price
		if status.Price > 0 {
			fillPrice = status.Price
		}

		orderID := level.OrderID
		gridLevel := level.Level
		if _, err := e.ledger.RecordTrade(ctx, &models.Trade{
			ClientID:   e.params.ClientID,
			Symbol:     e.params.Symbol,
			Side:       level.Side,
			Quantity:   qty,
			Price:      fillPrice,
			OrderID:    &orderID,
			GridLevel:  &gridLevel,
			ExecutedAt: time.Now(),
		}); err != nil {
			// Keep the order ID so the next tick re-observes the cancel and
			// retries the recording before anything is released.
			fmt.Printf("[BOT] %s partial execution recording failed, will retry: %v\n",
				e.params.Symbol, err)
			return
		}

		if err := e.tracker.ApplyFill(e.params.Symbol, level.Side == models.SideBuy, qty, fillPrice); err != nil {
			fmt.Printf("[INV] %s partial fill apply failed: %v\n", e.params.Symbol, err)
			e.notifier.Publish(notifications.TradeEvent{
				Kind:    notifications.EventIntegrity,
				Symbol:  e.params.Symbol,
				Message: fmt.Sprintf("partial execution could not be applied to inventory: %v", err),
			})
		}

		if level.Side == models.SideBuy {
			if rem := level.ReservedUSD - qty*fillPrice; rem > 0 {
				e.tracker.ReleaseBuy(e.params.Symbol, rem)
			}
			level.ReservedUSD = 0
		} else {
			if rem := level.Quantity - qty; rem > 0 {
				e.tracker.ReleaseSell(e.params.Symbol, rem)
			}
		}
	} else {
		e.releaseLevel(level)
	}

	e.mirror.MarkCanceled(ctx, level.OrderID)
	level.OrderID = ""
}

// placeReplacement converts a filled level into its opposite order.
// A filled BUY becomes a SELL at fill price plus the profit margin, the
// quick profit capture policy. A filled SELL becomes a BUY back below the
// current market price at the level's spacing.
func (e *Engine) placeReplacement(ctx context.Context, level *strategy.GridLevel, currentPrice float64, r rules.Rules) error {
	var side models.Side
	var price, qty float64

	if level.Side == models.SideBuy {
		side = models.SideSell
		price = level.FillPrice * (1 + e.params.ProfitMargin)
		qty = level.FillQuantity
	} else {
		side = models.SideBuy
		spacing := e.params.GridSpacing * math.Abs(float64(level.Level))
		price = currentPrice * (1 - spacing)
		// Size the buy from the level's USD budget, compound-scaled.
		sizeUSD := level.OrderSizeUSD
		if metrics, err := e.ledger.Performance(ctx, e.params.ClientID); err == nil {
			sizeUSD = level.OrderSizeUSD * metrics.CompoundMultiplier
		}
		if price <= 0 {
			return fmt.Errorf("replacement price non-positive")
		}
		qty = sizeUSD / price
	}

	prevSide, prevPrice, prevQty := level.Side, level.Price, level.Quantity
	level.Side = side
	level.Price = price
	level.Quantity = qty

	if err := e.placeLevel(ctx, level, r); err != nil {
		// Restore so the retry starts from the same fill state.
		level.Side, level.Price, level.Quantity = prevSide, prevPrice, prevQty
		return err
	}

	level.Filled = false
	level.FillPrice = 0
	level.FillQuantity = 0
	fmt.Printf("[GRID] %s level %+d replaced: %s %.8f @ %.8f\n",
		e.params.Symbol, level.Level, side, level.Quantity, level.Price)
	return nil
}

// releaseLevel returns the reservation held by a level's open order.
func (e *Engine) releaseLevel(level *strategy.GridLevel) {
	if level.Side == models.SideBuy {
		e.tracker.ReleaseBuy(e.params.Symbol, level.ReservedUSD)
		level.ReservedUSD = 0
	} else {
		e.tracker.ReleaseSell(e.params.Symbol, level.Quantity)
	}
}

// Stop cancels every open order, releases reservations, and removes the
// symbol from inventory tracking.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grid == nil {
		return fmt.Errorf("grid for %s not started", e.params.Symbol)
	}

	e.cancelAllLocked(ctx)
	e.grid = nil

	if err := e.tracker.Remove(e.params.Symbol); err != nil {
		fmt.Printf("[INV] Remove %s: %v\n", e.params.Symbol, err)
	}

	e.notifier.Publish(notifications.TradeEvent{
		Kind:    notifications.EventLifecycle,
		Symbol:  e.params.Symbol,
		Message: "grid stopped",
	})
	fmt.Printf("[GRID] %s stopped\n", e.params.Symbol)
	return nil
}

func (e *Engine) cancelAllLocked(ctx context.Context) {
	for _, level := range e.grid.AllLevels() {
		if level.OrderID == "" {
			continue
		}
		if err := e.exchange.CancelOrder(ctx, e.params.Symbol, level.OrderID); err != nil {
			fmt.Printf("[BOT] Cancel %s failed: %v\n", level.OrderID, err)
		}
		e.releaseLevel(level)
		e.mirror.MarkCanceled(ctx, level.OrderID)
		level.OrderID = ""
	}
}

// GridStatus is the API view of a running grid.
type GridStatus struct {
	Symbol       string             `json:"symbol"`
	Active       bool               `json:"active"`
	Stats        strategy.Stats     `json:"stats"`
	Inventory    inventory.Snapshot `json:"inventory"`
	ResetsToday  int                `json:"resetsToday"`
	LastResetAgo string             `json:"lastResetAgo,omitempty"`
}

func (e *Engine) Status() GridStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := GridStatus{Symbol: e.params.Symbol}
	if e.grid == nil {
		return s
	}
	s.Active = true
	s.Stats = e.grid.Stats()
	if snap, err := e.tracker.Status(e.params.Symbol); err == nil {
		s.Inventory = snap
	}
	s.ResetsToday = e.resets.countToday()
	if !e.resets.last.IsZero() {
		s.LastResetAgo = time.Since(e.resets.last).Round(time.Second).String()
	}
	return s
}

// SymbolSupported is a cheap shape check before hitting the exchange.
func SymbolSupported(symbol string) bool {
	return strings.HasSuffix(symbol, "USDT") && len(symbol) > len("USDT")
}
