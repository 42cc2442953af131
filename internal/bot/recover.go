package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/models"
)

// RecoverStore is the slice of the order mirror startup recovery needs.
type RecoverStore interface {
	ListOpen(ctx context.Context, clientID int64) ([]models.GridOrder, error)
	MarkFilled(ctx context.Context, orderID string, filledAt time.Time) error
	MarkCanceled(ctx context.Context, orderID string) error
}

// RecoverOrders reconciles mirror rows left OPEN by a previous run against
// the exchange. Fills that happened while the process was down are recorded
// to the ledger; orders still live on the exchange are canceled, since no
// grid owns them anymore. A row that cannot be resolved stays OPEN and is
// retried on the next start.
func RecoverOrders(ctx context.Context, store RecoverStore, ex exchange.Client, ledger *fifo.Ledger, clientID int64) error {
	orders, err := store.ListOpen(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list open mirrored orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	fmt.Printf("[BOT] Recovery: %d mirrored orders still open from a previous run\n", len(orders))

	for _, o := range orders {
		status, err := ex.GetOrderStatus(ctx, o.Symbol, o.OrderID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			store.MarkCanceled(ctx, o.OrderID)
			continue
		}
		if err != nil {
			fmt.Printf("[BOT] Recovery: status poll for %s failed: %v\n", o.OrderID, err)
			continue
		}

		switch status.Status {
		case "FILLED":
			if err := recordRecovered(ctx, ledger, clientID, o, status); err != nil {
				fmt.Printf("[BOT] Recovery: recording fill %s failed: %v\n", o.OrderID, err)
				continue
			}
			store.MarkFilled(ctx, o.OrderID, time.Now())
			fmt.Printf("[BOT] Recovery: %s %s filled while down\n", o.Symbol, o.OrderID)

		case "CANCELED", "REJECTED", "EXPIRED":
			if status.ExecutedQty > 0 {
				if err := recordRecovered(ctx, ledger, clientID, o, status); err != nil {
					fmt.Printf("[BOT] Recovery: recording partial %s failed: %v\n", o.OrderID, err)
					continue
				}
			}
			store.MarkCanceled(ctx, o.OrderID)

		default:
			// Still live on the exchange with no grid behind it.
			if status.ExecutedQty > 0 {
				if err := recordRecovered(ctx, ledger, clientID, o, status); err != nil {
					fmt.Printf("[BOT] Recovery: recording partial %s failed: %v\n", o.OrderID, err)
					continue
				}
			}
			if err := ex.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
				fmt.Printf("[BOT] Recovery: cancel %s failed: %v\n", o.OrderID, err)
				continue
			}
			store.MarkCanceled(ctx, o.OrderID)
			fmt.Printf("[BOT] Recovery: canceled orphaned %s %s\n", o.Symbol, o.OrderID)
		}
	}
	return nil
}

func recordRecovered(ctx context.Context, ledger *fifo.Ledger, clientID int64, o models.GridOrder, status exchange.OrderStatus) error {
	qty := status.ExecutedQty
	if qty <= 0 {
		qty = o.Quantity
	}
	price := status.Price
	if price <= 0 {
		price = o.Price
	}

	orderID := o.OrderID
	gridLevel := o.GridLevel
	_, err := ledger.RecordTrade(ctx, &models.Trade{
		ClientID:   clientID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		OrderID:    &orderID,
		GridLevel:  &gridLevel,
		ExecutedAt: time.Now(),
	})
	return err
}
