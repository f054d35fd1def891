package sales

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/payment"
)

type Phase string

const (
	PhaseCreate  Phase = "create"
	PhaseReserve Phase = "reserve"
	PhasePay     Phase = "pay"
)

// PhaseError tells the caller how far CreateAndPay got. After a reserve
// failure the sale is still a draft; after a pay failure it is reserved with
// its hold intact and needs a Cancel or a retried payment.
type PhaseError struct {
	Phase  Phase
	SaleID string
	State  domain.State
	Err    error
}

func (e *PhaseError) Error() string {
	if e.SaleID == "" {
		return fmt.Sprintf("create-and-pay: %s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("create-and-pay: %s failed for sale %s (left %s): %v", e.Phase, e.SaleID, e.State, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Checkout sequences create, reserve and pay for callers that want one call.
type Checkout struct {
	sales    *Service
	payments payment.Confirmer
	log      *zap.Logger
}

// NewCheckout wires the orchestrator. A nil confirmer accepts every
// payment reference as already settled.
func NewCheckout(svc *Service, payments payment.Confirmer, log *zap.Logger) *Checkout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checkout{sales: svc, payments: payments, log: log}
}

type CheckoutInput struct {
	CreateInput
	PaymentRef string
	TTLMinutes *int
}

// CreateAndPay never reports success for a partial run: any failure comes
// back as a *PhaseError naming the phase and the sale's resulting state.
func (c *Checkout) CreateAndPay(ctx context.Context, in CheckoutInput) (sale domain.Sale, err error) {
	ctx, span := c.sales.tracer.Start(ctx, "sales.CreateAndPay")
	defer func() { endSpan(span, err) }()

	if err := ValidateTTL(in.TTLMinutes); err != nil {
		return domain.Sale{}, &PhaseError{Phase: PhaseCreate, Err: err}
	}
	if in.PaymentRef == "" {
		return domain.Sale{}, &PhaseError{Phase: PhaseCreate, Err: domain.NewValidationError("payment_ref is required")}
	}

	sale, err = c.sales.Create(ctx, in.CreateInput)
	if err != nil {
		return domain.Sale{}, &PhaseError{Phase: PhaseCreate, Err: err}
	}
	span.SetAttributes(attribute.String("sale_id", sale.ID))

	reserved, err := c.sales.Reserve(ctx, sale.ID)
	if err != nil {
		return sale, &PhaseError{Phase: PhaseReserve, SaleID: sale.ID, State: domain.StateDraft, Err: err}
	}

	paid, err := c.Pay(ctx, PaymentInput{SaleID: sale.ID, PaymentRef: in.PaymentRef, TTLMinutes: in.TTLMinutes})
	if err != nil {
		c.log.Warn("create-and-pay left sale reserved",
			zap.String("sale_id", sale.ID),
			zap.String("payment_ref", in.PaymentRef),
			zap.Error(err))
		return reserved, &PhaseError{Phase: PhasePay, SaleID: sale.ID, State: domain.StateReserved, Err: err}
	}
	return paid, nil
}

// Pay confirms ref with the payment collaborator for the sale's total and
// then moves the sale to paid. The sale must already be reserved, so a
// reference is never spent on a sale that cannot accept it.
func (c *Checkout) Pay(ctx context.Context, in PaymentInput) (domain.Sale, error) {
	if err := ValidateTTL(in.TTLMinutes); err != nil {
		return domain.Sale{}, err
	}
	if in.PaymentRef == "" {
		return domain.Sale{}, domain.NewRuleError("sale %s: payment_ref is required", in.SaleID)
	}
	cur, err := c.sales.Get(ctx, in.SaleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !domain.CanTransition(cur.State, domain.StatePaid) {
		return domain.Sale{}, &domain.TransitionError{
			SaleID:   cur.ID,
			Current:  cur.State,
			Target:   domain.StatePaid,
			Required: domain.Sources(domain.StatePaid),
		}
	}
	if c.payments != nil {
		if err := c.payments.Confirm(ctx, cur.ID, in.PaymentRef, cur.TotalPrice); err != nil {
			return domain.Sale{}, fmt.Errorf("confirm payment %s: %w", in.PaymentRef, err)
		}
	}
	return c.sales.ConfirmPayment(ctx, in)
}
