package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/gridtraderpro/backend/internal/models"
)

// EventKind classifies notifier events.
type EventKind string

const (
	EventFill      EventKind = "FILL"
	EventReset     EventKind = "GRID_RESET"
	EventIntegrity EventKind = "INTEGRITY"
	EventLifecycle EventKind = "LIFECYCLE"
)

// TradeEvent is emitted by the engine after a fill (or other state change)
// is fully processed. Notification delivery happens strictly after and
// outside trading logic.
type TradeEvent struct {
	Kind      EventKind
	Symbol    string
	Side      models.Side
	Quantity  float64
	Price     float64
	GridLevel int
	Profit    float64 // realized profit total at emit time, fills only
	Message   string  // used directly for non-fill events
	At        time.Time
}

// Notifier consumes TradeEvents from a buffered channel and forwards them
// to the Sender. Producers never block: Publish drops when the buffer is
// full, so a slow webhook cannot stall a trade.
type Notifier struct {
	sender *Sender
	events chan TradeEvent
}

func NewNotifier(sender *Sender, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{
		sender: sender,
		events: make(chan TradeEvent, buffer),
	}
}

// Publish enqueues an event without blocking. Returns false when the
// buffer was full and the event was dropped.
func (n *Notifier) Publish(ev TradeEvent) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case n.events <- ev:
		return true
	default:
		fmt.Printf("[NOTIFY] Buffer full, dropped %s event for %s\n", ev.Kind, ev.Symbol)
		return false
	}
}

// Run consumes events until ctx is cancelled, then drains what is queued.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.events:
			n.sender.Send(format(ev))
		case <-ctx.Done():
			for {
				select {
				case ev := <-n.events:
					n.sender.Send(format(ev))
				default:
					return
				}
			}
		}
	}
}

func format(ev TradeEvent) string {
	switch ev.Kind {
	case EventFill:
		emoji := "🟢"
		if ev.Side == models.SideSell {
			emoji = "🔴"
		}
		return fmt.Sprintf("%s %s %s %.8f @ $%.4f (level %+d) | total profit $%.2f",
			emoji, ev.Side, ev.Symbol, ev.Quantity, ev.Price, ev.GridLevel, ev.Profit)
	case EventReset:
		return fmt.Sprintf("🔄 Grid reset: %s | %s", ev.Symbol, ev.Message)
	case EventIntegrity:
		return fmt.Sprintf("⚠️ Integrity alert: %s | %s", ev.Symbol, ev.Message)
	default:
		return fmt.Sprintf("%s %s", ev.Symbol, ev.Message)
	}
}
