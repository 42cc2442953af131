package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridtraderpro/backend/internal/config"
	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/inventory"
	"github.com/gridtraderpro/backend/internal/notifications"
	"github.com/gridtraderpro/backend/internal/rules"
)

// activeGrid pairs an engine with its tick lock. TryLock on the tick path
// means a slow tick is skipped for that grid rather than queued, and two
// ticks for one grid can never interleave.
type activeGrid struct {
	engine *Engine
	tickMu sync.Mutex
}

// Reconciler runs integrity checks over all active grids.
type Reconciler interface {
	Reconcile(ctx context.Context, symbols []string) error
}

// Orchestrator owns the set of active grids for one client. It is an
// explicit instance constructed at startup and passed where needed;
// there is no package-level state.
type Orchestrator struct {
	cfg        *config.Config
	exchange   exchange.Client
	rules      *rules.Cache
	ledger     *fifo.Ledger
	tracker    *inventory.Tracker
	mirror     OrderMirror
	notifier   *notifications.Notifier
	prices     PriceSource
	reconciler Reconciler

	mu    sync.Mutex
	grids map[string]*activeGrid
}

func NewOrchestrator(
	cfg *config.Config,
	ex exchange.Client,
	rc *rules.Cache,
	ledger *fifo.Ledger,
	tracker *inventory.Tracker,
	mirror OrderMirror,
	notifier *notifications.Notifier,
	prices PriceSource,
	reconciler Reconciler,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		exchange:   ex,
		rules:      rc,
		ledger:     ledger,
		tracker:    tracker,
		mirror:     mirror,
		notifier:   notifier,
		prices:     prices,
		reconciler: reconciler,
		grids:      make(map[string]*activeGrid),
	}
}

// StartGrid validates the request synchronously and brings a grid live.
// A failed start never leaves a partial grid in the active map.
func (o *Orchestrator) StartGrid(ctx context.Context, symbol string, usdtAmount float64) error {
	if usdtAmount <= 0 {
		return fmt.Errorf("usdt amount must be positive, got %.2f", usdtAmount)
	}
	if !SymbolSupported(symbol) {
		return fmt.Errorf("unsupported symbol %q: only USDT pairs are traded", symbol)
	}

	o.mu.Lock()
	if _, exists := o.grids[symbol]; exists {
		o.mu.Unlock()
		return fmt.Errorf("grid for %s already active", symbol)
	}
	// Placeholder reserves the slot so two concurrent starts cannot race.
	slot := &activeGrid{}
	o.grids[symbol] = slot
	o.mu.Unlock()

	engine := NewEngine(EngineParams{
		ClientID:       o.cfg.ClientID,
		Symbol:         symbol,
		USDTAmount:     usdtAmount,
		GridSpacing:    o.cfg.GridSpacing,
		ProfitMargin:   o.cfg.ProfitMargin,
		LevelsPerSide:  o.cfg.LevelsPerSide,
		NotionalSafety: o.cfg.NotionalSafety,
		ResetDeviation: o.cfg.ResetDeviation,
		ResetCooldown:  time.Duration(o.cfg.ResetCooldownSecs) * time.Second,
		ResetMaxPerDay: o.cfg.ResetMaxPerDay,
	}, o.exchange, o.rules, o.ledger, o.tracker, o.mirror, o.notifier, o.prices)

	if err := engine.Start(ctx); err != nil {
		o.mu.Lock()
		delete(o.grids, symbol)
		o.mu.Unlock()
		return err
	}

	slot.engine = engine
	return nil
}

// StopGrid cancels a grid's orders and removes it from the active map.
func (o *Orchestrator) StopGrid(ctx context.Context, symbol string) error {
	o.mu.Lock()
	grid, ok := o.grids[symbol]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("no active grid for %s", symbol)
	}
	delete(o.grids, symbol)
	o.mu.Unlock()

	if grid.engine == nil {
		return fmt.Errorf("grid for %s still starting", symbol)
	}

	// Serialize with any in-flight tick before tearing down.
	grid.tickMu.Lock()
	defer grid.tickMu.Unlock()
	return grid.engine.Stop(ctx)
}

// ResetGrid forces a re-center at the current market price. Rate limits
// (cooldown, daily cap) still apply.
func (o *Orchestrator) ResetGrid(ctx context.Context, symbol string) error {
	o.mu.Lock()
	grid, ok := o.grids[symbol]
	o.mu.Unlock()
	if !ok || grid.engine == nil {
		return fmt.Errorf("no active grid for %s", symbol)
	}

	grid.tickMu.Lock()
	defer grid.tickMu.Unlock()
	return grid.engine.Reset(ctx, "manual reset requested")
}

// Status returns the status of every active grid.
func (o *Orchestrator) Status() []GridStatus {
	out := make([]GridStatus, 0, len(o.active()))
	for _, g := range o.active() {
		if g.engine != nil {
			out = append(out, g.engine.Status())
		}
	}
	return out
}

// ActiveSymbols lists symbols with a live grid.
func (o *Orchestrator) ActiveSymbols() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.grids))
	for s, g := range o.grids {
		if g.engine != nil {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) active() []*activeGrid {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*activeGrid, 0, len(o.grids))
	for _, g := range o.grids {
		out = append(out, g)
	}
	return out
}

// Run drives the monitoring loop until ctx is cancelled: each interval it
// ticks every active grid concurrently, and periodically reconciles.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := time.Duration(o.cfg.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reconcileEvery := time.Duration(o.cfg.ReconcileIntervalMins) * time.Minute
	lastReconcile := time.Now()

	fmt.Printf("[BOT] Monitoring loop started, interval %s\n", interval)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("[BOT] Monitoring loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.tickAll(ctx)

			if o.reconciler != nil && time.Since(lastReconcile) >= reconcileEvery {
				lastReconcile = time.Now()
				if err := o.reconciler.Reconcile(ctx, o.ActiveSymbols()); err != nil {
					fmt.Printf("[RECONCILE] Run failed: %v\n", err)
				}
			}
		}
	}
}

// tickAll fans ticks out across grids. Failures are logged per grid and
// never interrupt the loop; a grid still ticking from last round is
// skipped this round.
func (o *Orchestrator) tickAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	for _, grid := range o.active() {
		grid := grid
		if grid.engine == nil {
			continue
		}
		g.Go(func() error {
			if !grid.tickMu.TryLock() {
				fmt.Printf("[BOT] %s tick still running, skipping\n", grid.engine.Symbol())
				return nil
			}
			defer grid.tickMu.Unlock()

			if err := grid.engine.Tick(gctx); err != nil {
				fmt.Printf("[BOT] %s tick failed: %v\n", grid.engine.Symbol(), err)
			}
			return nil
		})
	}
	g.Wait()
}
