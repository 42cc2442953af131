package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/gridtraderpro/backend/internal/notifications"
	"github.com/gridtraderpro/backend/internal/rules"
)

// resetGuard rate-limits grid resets: a cooldown between resets, a daily
// cap, and an adaptive deviation threshold that backs off when resets
// cluster and relaxes after a long quiet stretch.
type resetGuard struct {
	last    time.Time
	history []time.Time
}

const (
	resetClusterWindow = 6 * time.Hour
	resetClusterSize   = 3
	resetQuietWindow   = 12 * time.Hour
	// threshold scaling when resets cluster / after quiet periods
	clusterFactor = 1.5
	quietFactor   = 0.8
)

func (g *resetGuard) countToday() int {
	cutoff := time.Now().Add(-24 * time.Hour)
	n := 0
	for _, t := range g.history {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (g *resetGuard) countWithin(d time.Duration) int {
	cutoff := time.Now().Add(-d)
	n := 0
	for _, t := range g.history {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// threshold adapts the base deviation threshold to recent reset behavior.
func (g *resetGuard) threshold(base float64) float64 {
	if g.countWithin(resetClusterWindow) >= resetClusterSize {
		return base * clusterFactor
	}
	if !g.last.IsZero() && time.Since(g.last) > resetQuietWindow {
		return base * quietFactor
	}
	return base
}

// allow reports whether a reset may run now, with a reason when not.
func (g *resetGuard) allow(cooldown time.Duration, maxPerDay int) (bool, string) {
	if !g.last.IsZero() && time.Since(g.last) < cooldown {
		return false, fmt.Sprintf("cooldown, %s since last reset", time.Since(g.last).Round(time.Second))
	}
	if g.countToday() >= maxPerDay {
		return false, fmt.Sprintf("daily cap of %d resets reached", maxPerDay)
	}
	return true, ""
}

func (g *resetGuard) record() {
	now := time.Now()
	g.last = now
	g.history = append(g.history, now)

	// Trim entries older than a day; nothing consults beyond that.
	cutoff := now.Add(-24 * time.Hour)
	trimmed := g.history[:0]
	for _, t := range g.history {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	g.history = trimmed
}

// maybeReset re-centers the grid when price has drifted beyond the
// adaptive threshold. Called with the engine mutex held.
func (e *Engine) maybeReset(ctx context.Context, price float64, r rules.Rules) error {
	deviation := e.grid.Deviation(price)
	threshold := e.resets.threshold(e.params.ResetDeviation)
	if deviation < threshold {
		return nil
	}

	ok, reason := e.resets.allow(e.params.ResetCooldown, e.params.ResetMaxPerDay)
	if !ok {
		fmt.Printf("[RESET] %s deviation %.1f%% exceeds %.1f%% but blocked: %s\n",
			e.params.Symbol, deviation*100, threshold*100, reason)
		return nil
	}

	fmt.Printf("[RESET] %s deviation %.1f%% >= %.1f%%, re-centering at %.8f\n",
		e.params.Symbol, deviation*100, threshold*100, price)
	return e.resetLocked(ctx, price, r, fmt.Sprintf("price drifted %.1f%% from center", deviation*100))
}

// resetLocked cancels all open orders, rebuilds the ladder around the
// market price, and re-places it. Caller holds the engine mutex.
func (e *Engine) resetLocked(ctx context.Context, price float64, r rules.Rules, reason string) error {
	e.cancelAllLocked(ctx)

	grid, err := e.buildGrid(ctx, price, r)
	if err != nil {
		return fmt.Errorf("rebuild grid: %w", err)
	}
	e.grid = grid
	e.resets.record()

	placed := e.placeLadder(ctx, r)
	fmt.Printf("[RESET] %s re-centered at %.8f, %d orders placed\n", e.params.Symbol, price, placed)

	e.notifier.Publish(notifications.TradeEvent{
		Kind:    notifications.EventReset,
		Symbol:  e.params.Symbol,
		Message: fmt.Sprintf("%s, new center $%.4f, %d orders", reason, price, placed),
	})
	return nil
}

// Reset forces a re-center at the current market price, bypassing the
// deviation check but not the rate limits.
func (e *Engine) Reset(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grid == nil {
		return fmt.Errorf("grid for %s not started", e.params.Symbol)
	}
	if ok, why := e.resets.allow(e.params.ResetCooldown, e.params.ResetMaxPerDay); !ok {
		return fmt.Errorf("reset blocked: %s", why)
	}

	price, err := e.currentPrice(ctx)
	if err != nil {
		return fmt.Errorf("reset price: %w", err)
	}
	return e.resetLocked(ctx, price, e.rules.Get(ctx, e.params.Symbol), reason)
}
