package sales

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

const (
	EventSaleCreated   = "SaleCreated"
	EventSaleReserved  = "SaleReserved"
	EventSalePaid      = "SalePaid"
	EventSaleFulfilled = "SaleFulfilled"
	EventSaleCanceled  = "SaleCanceled"
	EventSaleExpired   = "SaleExpired"
	EventSaleUpdated   = "SaleUpdated"
	EventSaleDeleted   = "SaleDeleted"
)

// Event describes a committed sale transition.
type Event struct {
	Type       string       `json:"type"`
	SaleID     string       `json:"sale_id"`
	SlotID     string       `json:"slot_id"`
	Quantity   int          `json:"quantity"`
	TotalPrice int64        `json:"total_price"`
	State      domain.State `json:"state"`
	Reason     string       `json:"reason,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

func newEvent(typ string, sale domain.Sale, at time.Time) Event {
	ev := Event{
		Type:       typ,
		SaleID:     sale.ID,
		SlotID:     sale.SlotID,
		Quantity:   sale.Quantity,
		TotalPrice: sale.TotalPrice,
		State:      sale.State,
		OccurredAt: at,
	}
	if sale.CancelReason != nil {
		ev.Reason = *sale.CancelReason
	}
	return ev
}

// Notifier is told about every transition after it commits. A notifier
// error is logged and never undoes the transition.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

type multiNotifier []Notifier

// Notifiers fans an event out to every non-nil notifier.
func Notifiers(ns ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m multiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
