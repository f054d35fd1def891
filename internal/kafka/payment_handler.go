package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/payment"
	"github.com/ariefcatur/go-vending-sales/internal/sales"
)

type Recorder interface {
	Record(ctx context.Context, a payment.Authorization) error
}

type Payer interface {
	Pay(ctx context.Context, in sales.PaymentInput) (domain.Sale, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// PaymentHandler consumes PaymentAuthorized events: it records the
// authorization and, when the event names a sale, confirms payment for it.
type PaymentHandler struct {
	payments Recorder
	checkout Payer
	dedup    Deduper
	log      *zap.Logger
	now      func() time.Time
}

func NewPaymentHandler(payments Recorder, checkout Payer, dedup Deduper, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{payments: payments, checkout: checkout, dedup: dedup, log: log, now: time.Now}
}

func (h *PaymentHandler) Handle(ctx context.Context, m kafka.Message) error {
	env, err := UnmarshalEnvelope(m.Value)
	if err != nil {
		h.log.Warn("dropping malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventPaymentAuthorized {
		return nil
	}
	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	p, err := UnwrapPayload[PaymentAuthorizedPayload](env.Payload)
	if err != nil || p.PaymentRef == "" {
		h.log.Warn("dropping payment event without ref", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	log := h.log.With(zap.String("event_id", env.EventID), zap.String("payment_ref", p.PaymentRef))

	at := env.OccurredAt
	if at.IsZero() {
		at = h.now()
	}
	if err := h.payments.Record(ctx, payment.Authorization{
		PaymentRef:   p.PaymentRef,
		Amount:       p.Amount,
		AuthorizedAt: at,
	}); err != nil {
		return err
	}

	if p.SaleID != "" {
		sale, err := h.checkout.Pay(ctx, sales.PaymentInput{
			SaleID:     p.SaleID,
			PaymentRef: p.PaymentRef,
			TTLMinutes: p.TTLMinutes,
		})
		switch {
		case err == nil:
			log.Info("sale paid", zap.String("sale_id", sale.ID))
		case rejected(err):
			log.Warn("payment not applied", zap.String("sale_id", p.SaleID), zap.Error(err))
		default:
			return err
		}
	}

	if h.dedup != nil {
		if err := h.dedup.Mark(ctx, env.EventID); err != nil {
			log.Warn("dedup mark failed", zap.Error(err))
		}
	}
	return nil
}

// rejected reports errors a redelivery cannot fix.
func rejected(err error) bool {
	return errors.Is(err, domain.ErrBusinessRule) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, payment.ErrAmountMismatch) ||
		errors.Is(err, payment.ErrPaymentAlreadyUsed) ||
		errors.Is(err, payment.ErrPaymentNotFound)
}
