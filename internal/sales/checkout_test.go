package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/payment"
	"github.com/ariefcatur/go-vending-sales/internal/pricing"
)

type fakePayments struct {
	err   error
	calls []int64
}

func (p *fakePayments) Confirm(_ context.Context, _, _ string, amount int64) error {
	p.calls = append(p.calls, amount)
	return p.err
}

// singleUsePayments binds each reference to the first sale that confirms it,
// like the Redis registry.
type singleUsePayments struct {
	owners map[string]string
}

func (p *singleUsePayments) Confirm(_ context.Context, saleID, ref string, _ int64) error {
	if p.owners == nil {
		p.owners = map[string]string{}
	}
	owner, ok := p.owners[ref]
	if !ok {
		p.owners[ref] = saleID
		return nil
	}
	if owner != saleID {
		return payment.ErrPaymentAlreadyUsed
	}
	return nil
}

// flakyIssuer fails the first Issue call and then hands out a fixed code.
type flakyIssuer struct {
	failed bool
}

func (i *flakyIssuer) Issue() (string, error) {
	if !i.failed {
		i.failed = true
		return "", errors.New("entropy source unavailable")
	}
	return "ABC123", nil
}

func (i *flakyIssuer) Verify(sale domain.Sale, code string) bool {
	return sale.PickupCode != nil && *sale.PickupCode == code
}

func TestCreateAndPay(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, 5, 5)
		pay := &fakePayments{}
		co := NewCheckout(f.svc, pay, nil)

		sale, err := co.CreateAndPay(ctx, CheckoutInput{
			CreateInput: CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 2},
			PaymentRef:  "pay1",
			TTLMinutes:  ttl(60),
		})
		if err != nil {
			t.Fatalf("create and pay: %v", err)
		}
		if sale.State != domain.StatePaid || sale.PickupCode == nil {
			t.Fatalf("unexpected sale: %+v", sale)
		}
		if len(pay.calls) != 1 || pay.calls[0] != 300 {
			t.Fatalf("expected one confirm for 300, got %v", pay.calls)
		}
		f.assertCounters(t, 3, 2)
	})

	t.Run("reserve failure leaves draft", func(t *testing.T) {
		f := newFixture(t, 5, 1)
		pay := &fakePayments{}
		co := NewCheckout(f.svc, pay, nil)

		sale, err := co.CreateAndPay(ctx, CheckoutInput{
			CreateInput: CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 2},
			PaymentRef:  "pay1",
		})
		var perr *PhaseError
		if !errors.As(err, &perr) || perr.Phase != PhaseReserve || perr.State != domain.StateDraft {
			t.Fatalf("expected reserve phase error, got %v", err)
		}
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("expected cause to be ErrInsufficientStock, got %v", err)
		}
		stored, _ := f.svc.Get(ctx, sale.ID)
		if stored.State != domain.StateDraft {
			t.Fatalf("expected draft, got %s", stored.State)
		}
		if len(pay.calls) != 0 {
			t.Fatal("payment must not be attempted after a failed reserve")
		}
		f.assertCounters(t, 1, 0)
	})

	t.Run("payment failure keeps the hold exactly once", func(t *testing.T) {
		f := newFixture(t, 5, 5)
		pay := &fakePayments{err: payment.ErrAmountMismatch}
		co := NewCheckout(f.svc, pay, nil)

		sale, err := co.CreateAndPay(ctx, CheckoutInput{
			CreateInput: CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 2},
			PaymentRef:  "pay1",
		})
		var perr *PhaseError
		if !errors.As(err, &perr) || perr.Phase != PhasePay || perr.SaleID != sale.ID {
			t.Fatalf("expected pay phase error, got %v", err)
		}
		if !errors.Is(err, payment.ErrAmountMismatch) {
			t.Fatalf("expected payment cause, got %v", err)
		}
		stored, _ := f.svc.Get(ctx, sale.ID)
		if stored.State != domain.StateReserved || stored.PickupCode != nil {
			t.Fatalf("expected reserved sale without code, got %+v", stored)
		}
		f.assertCounters(t, 3, 2)

		// The caller resolves it with a cancel, which releases once.
		if _, err := f.svc.Cancel(ctx, sale.ID, nil); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		f.assertCounters(t, 5, 0)
		if _, err := f.svc.Cancel(ctx, sale.ID, nil); !errors.Is(err, domain.ErrBusinessRule) {
			t.Fatalf("expected second cancel to be rejected, got %v", err)
		}
		f.assertCounters(t, 5, 0)
	})

	t.Run("bad ttl rejected before anything is created", func(t *testing.T) {
		f := newFixture(t, 5, 5)
		co := NewCheckout(f.svc, &fakePayments{}, nil)
		_, err := co.CreateAndPay(ctx, CheckoutInput{
			CreateInput: CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 1},
			PaymentRef:  "pay1",
			TTLMinutes:  ttl(0),
		})
		var perr *PhaseError
		if !errors.As(err, &perr) || perr.Phase != PhaseCreate || !errors.Is(err, domain.ErrBusinessRule) {
			t.Fatalf("expected create phase rule error, got %v", err)
		}
		if len(f.events.types()) != 0 {
			t.Fatalf("expected no sale to be created, got events %v", f.events.types())
		}
	})

	t.Run("create failure", func(t *testing.T) {
		f := newFixture(t, 5, 5)
		co := NewCheckout(f.svc, nil, nil)
		_, err := co.CreateAndPay(ctx, CheckoutInput{
			CreateInput: CreateInput{SlotID: "missing", ProductID: "cola", Quantity: 1},
			PaymentRef:  "pay1",
		})
		var perr *PhaseError
		if !errors.As(err, &perr) || perr.Phase != PhaseCreate || !errors.Is(err, domain.ErrSlotNotFound) {
			t.Fatalf("expected create phase not found, got %v", err)
		}
	})
}

func TestPayRequiresReservedSale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, 5)
	pay := &fakePayments{}
	co := NewCheckout(f.svc, pay, nil)

	sale := f.create(t, 1)
	_, err := co.Pay(ctx, PaymentInput{SaleID: sale.ID, PaymentRef: "pay1"})
	var terr *domain.TransitionError
	if !errors.As(err, &terr) || terr.Current != domain.StateDraft {
		t.Fatalf("expected transition error from draft, got %v", err)
	}
	if len(pay.calls) != 0 {
		t.Fatal("payment reference must not be spent on a draft sale")
	}
}

func TestPayRetryAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, 5)
	svc := NewService(f.store, f.store, pricing.NewStatic(pricing.Entry{ProductID: "cola", Amount: 150, ValidFrom: t0.Add(-time.Hour)}), f.clock,
		WithIssuer(&flakyIssuer{}))
	pay := &singleUsePayments{}
	co := NewCheckout(svc, pay, nil)

	sale, err := svc.Create(ctx, CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Reserve(ctx, sale.ID); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := co.Pay(ctx, PaymentInput{SaleID: sale.ID, PaymentRef: "pay1", TTLMinutes: ttl(60)}); err == nil {
		t.Fatal("expected the first attempt to fail")
	}
	cur, err := svc.Get(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.State != domain.StateReserved {
		t.Fatalf("failed attempt must leave the sale reserved, got %s", cur.State)
	}

	paid, err := co.Pay(ctx, PaymentInput{SaleID: sale.ID, PaymentRef: "pay1", TTLMinutes: ttl(60)})
	if err != nil {
		t.Fatalf("retry with the same reference: %v", err)
	}
	if paid.State != domain.StatePaid || paid.ExpiresAt == nil || paid.PickupCode == nil || *paid.PickupCode != "ABC123" {
		t.Fatalf("unexpected sale after retry: %+v", paid)
	}

	other, err := svc.Create(ctx, CreateInput{SlotID: f.slot.ID, ProductID: "cola", Quantity: 1})
	if err != nil {
		t.Fatalf("create second sale: %v", err)
	}
	if _, err := svc.Reserve(ctx, other.ID); err != nil {
		t.Fatalf("reserve second sale: %v", err)
	}
	if _, err := co.Pay(ctx, PaymentInput{SaleID: other.ID, PaymentRef: "pay1"}); !errors.Is(err, payment.ErrPaymentAlreadyUsed) {
		t.Fatalf("expected the reference to stay bound to the first sale, got %v", err)
	}
}
