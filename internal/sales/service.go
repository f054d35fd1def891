// Package sales runs the sale lifecycle: draft, reserved, paid and then
// fulfilled, canceled or expired. Every transition re-reads the sale under a
// row lock, checks the transition table and commits the stock movement and
// the new state together.
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/clock"
	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/ledger"
	"github.com/ariefcatur/go-vending-sales/internal/pickup"
	"github.com/ariefcatur/go-vending-sales/internal/pricing"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetSlot(ctx context.Context, id string) (domain.Slot, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, id string) (domain.Sale, error)
	GetSaleForUpdate(ctx context.Context, id string) (domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error
}

type CodeIssuer interface {
	Issue() (string, error)
	Verify(sale domain.Sale, code string) bool
}

const DefaultTTLMinutes = 30

type Service struct {
	repo       Repository
	ledger     ledger.Ledger
	prices     pricing.Resolver
	clock      clock.Clock
	codes      CodeIssuer
	defaultTTL int
	notifier   Notifier
	log        *zap.Logger
	tracer     trace.Tracer
}

type Option func(*Service)

// WithDefaultTTL sets the pickup window applied when ConfirmPayment gets no TTL.
func WithDefaultTTL(minutes int) Option {
	return func(s *Service) {
		if minutes >= domain.MinPickupTTLMinutes && minutes <= domain.MaxPickupTTLMinutes {
			s.defaultTTL = minutes
		}
	}
}

func WithIssuer(c CodeIssuer) Option {
	return func(s *Service) {
		if c != nil {
			s.codes = c
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func NewService(repo Repository, l ledger.Ledger, prices pricing.Resolver, clk clock.Clock, opts ...Option) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	iss, _ := pickup.NewIssuer(pickup.DefaultLength)
	svc := &Service{
		repo:       repo,
		ledger:     l,
		prices:     prices,
		clock:      clk,
		codes:      iss,
		defaultTTL: DefaultTTLMinutes,
		log:        zap.NewNop(),
		tracer:     otel.Tracer("sales"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateInput struct {
	SlotID    string
	ProductID string
	Quantity  int
	UserID    *string
	Notes     *string
	Metadata  map[string]any
}

// Create prices the sale once and stores it as a draft. No stock moves.
func (s *Service) Create(ctx context.Context, in CreateInput) (sale domain.Sale, err error) {
	ctx, span := s.tracer.Start(ctx, "sales.Create", trace.WithAttributes(attribute.String("slot_id", in.SlotID)))
	defer func() { endSpan(span, err) }()

	if in.SlotID == "" || in.ProductID == "" {
		return domain.Sale{}, domain.NewValidationError("slot_id and product_id are required")
	}
	if err := validateQuantity(in.Quantity); err != nil {
		return domain.Sale{}, err
	}

	slot, err := s.repo.GetSlot(ctx, in.SlotID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !slot.Active {
		return domain.Sale{}, domain.NewRuleError("slot %s is not active", slot.ID)
	}
	if slot.ProductID == nil {
		return domain.Sale{}, domain.NewRuleError("slot %s is empty", slot.ID)
	}
	if *slot.ProductID != in.ProductID {
		return domain.Sale{}, domain.NewRuleError("slot %s holds product %s, not %s", slot.ID, *slot.ProductID, in.ProductID)
	}

	now := s.clock.Now()
	unit, err := s.unitPrice(ctx, slot, now)
	if err != nil {
		return domain.Sale{}, err
	}

	sale = domain.Sale{
		ID:         uuid.NewString(),
		SlotID:     slot.ID,
		ProductID:  in.ProductID,
		UserID:     in.UserID,
		Quantity:   in.Quantity,
		UnitPrice:  unit,
		TotalPrice: unit * int64(in.Quantity),
		State:      domain.StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
		Notes:      in.Notes,
		Metadata:   in.Metadata,
	}
	if err := s.repo.CreateSale(ctx, sale); err != nil {
		return domain.Sale{}, fmt.Errorf("create sale: %w", err)
	}
	s.log.Info("sale created",
		zap.String("sale_id", sale.ID),
		zap.String("slot_id", sale.SlotID),
		zap.Int("quantity", sale.Quantity),
		zap.Int64("total_price", sale.TotalPrice))
	s.notify(ctx, EventSaleCreated, sale, now)
	return sale, nil
}

func (s *Service) unitPrice(ctx context.Context, slot domain.Slot, now time.Time) (int64, error) {
	if slot.PriceOverride != nil {
		return *slot.PriceOverride, nil
	}
	if s.prices == nil {
		return 0, fmt.Errorf("product %s: %w", *slot.ProductID, domain.ErrNoPriceDefined)
	}
	amount, ok, err := s.prices.Resolve(ctx, pricing.Query{
		ProductID: *slot.ProductID,
		MachineID: slot.MachineID,
		AsOf:      now,
	})
	if err != nil {
		return 0, fmt.Errorf("resolve price: %w", err)
	}
	if !ok || amount <= 0 {
		return 0, fmt.Errorf("product %s on machine %s: %w", *slot.ProductID, slot.MachineID, domain.ErrNoPriceDefined)
	}
	return amount, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// Reserve moves a draft sale's quantity from available to reserved.
// InsufficientStock from the ledger is returned unchanged and the sale
// stays in draft.
func (s *Service) Reserve(ctx context.Context, id string) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "sales.Reserve", id)
	defer func() { endSpan(span, err) }()

	sale, err = s.transition(ctx, id, domain.StateReserved, func(ctx context.Context, sale *domain.Sale, now time.Time) error {
		if err := s.ledger.Reserve(ctx, sale.SlotID, sale.Quantity); err != nil {
			return err
		}
		sale.ReservedAt = &now
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.Info("sale reserved", zap.String("sale_id", id), zap.String("slot_id", sale.SlotID), zap.Int("quantity", sale.Quantity))
	s.notify(ctx, EventSaleReserved, sale, *sale.ReservedAt)
	return sale, nil
}

type PaymentInput struct {
	SaleID     string
	PaymentRef string
	TTLMinutes *int
}

// ValidateTTL rejects pickup windows outside [1,1440] minutes. nil means the default.
func ValidateTTL(ttl *int) error {
	if ttl == nil {
		return nil
	}
	if *ttl < domain.MinPickupTTLMinutes || *ttl > domain.MaxPickupTTLMinutes {
		return domain.NewRuleError("ttl_minutes must be in [%d,%d], got %d",
			domain.MinPickupTTLMinutes, domain.MaxPickupTTLMinutes, *ttl)
	}
	return nil
}

// ConfirmPayment records the payment and opens the pickup window. The sale
// is only seen as paid together with its pickup code and deadline.
func (s *Service) ConfirmPayment(ctx context.Context, in PaymentInput) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "sales.ConfirmPayment", in.SaleID)
	defer func() { endSpan(span, err) }()

	if err := ValidateTTL(in.TTLMinutes); err != nil {
		return domain.Sale{}, err
	}
	if in.PaymentRef == "" {
		return domain.Sale{}, domain.NewRuleError("sale %s: payment_ref is required", in.SaleID)
	}
	ttl := s.defaultTTL
	if in.TTLMinutes != nil {
		ttl = *in.TTLMinutes
	}

	sale, err = s.transition(ctx, in.SaleID, domain.StatePaid, func(_ context.Context, sale *domain.Sale, now time.Time) error {
		code, err := s.codes.Issue()
		if err != nil {
			return err
		}
		expires := now.Add(time.Duration(ttl) * time.Minute)
		sale.PaymentRef = &in.PaymentRef
		sale.PickupCode = &code
		sale.ExpiresAt = &expires
		sale.PaidAt = &now
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.Info("sale paid",
		zap.String("sale_id", sale.ID),
		zap.String("payment_ref", in.PaymentRef),
		zap.Time("expires_at", *sale.ExpiresAt))
	s.notify(ctx, EventSalePaid, sale, *sale.PaidAt)
	return sale, nil
}

// ConfirmPickup redeems a paid sale. The deadline is soft: a pickup after
// expires_at still succeeds until the sweeper has expired the sale.
func (s *Service) ConfirmPickup(ctx context.Context, id, code string) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "sales.ConfirmPickup", id)
	defer func() { endSpan(span, err) }()

	sale, err = s.transition(ctx, id, domain.StateFulfilled, func(ctx context.Context, sale *domain.Sale, now time.Time) error {
		if !s.codes.Verify(*sale, code) {
			return domain.NewRuleError("sale %s: pickup code does not match", sale.ID)
		}
		if err := s.ledger.Consume(ctx, sale.SlotID, sale.Quantity); err != nil {
			return holdError(sale, err)
		}
		sale.FulfilledAt = &now
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.Info("sale fulfilled", zap.String("sale_id", id), zap.String("slot_id", sale.SlotID))
	s.notify(ctx, EventSaleFulfilled, sale, *sale.FulfilledAt)
	return sale, nil
}

// Cancel ends a draft, reserved or paid sale and returns any held stock.
func (s *Service) Cancel(ctx context.Context, id string, reason *string) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "sales.Cancel", id)
	defer func() { endSpan(span, err) }()

	var released int
	sale, err = s.transition(ctx, id, domain.StateCanceled, func(ctx context.Context, sale *domain.Sale, now time.Time) error {
		if sale.State.HoldsStock() {
			if err := s.ledger.Release(ctx, sale.SlotID, sale.Quantity); err != nil {
				return holdError(sale, err)
			}
			released = sale.Quantity
		}
		sale.CanceledAt = &now
		sale.CancelReason = reason
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.Info("sale canceled", zap.String("sale_id", id), zap.Int("released", released))
	s.notify(ctx, EventSaleCanceled, sale, *sale.CanceledAt)
	return sale, nil
}

// Expire forces a stock-holding sale whose deadline has passed into expired
// and returns the released units. Sales that are no longer reserved or paid,
// or are not yet due, are rejected with a business rule error and left as is.
func (s *Service) Expire(ctx context.Context, id string) (sale domain.Sale, released int, err error) {
	ctx, span := s.startSpan(ctx, "sales.Expire", id)
	defer func() { endSpan(span, err) }()

	sale, err = s.transition(ctx, id, domain.StateExpired, func(ctx context.Context, sale *domain.Sale, now time.Time) error {
		if !sale.PastDeadline(now) {
			if sale.ExpiresAt == nil {
				return domain.NewRuleError("sale %s (%s) has no deadline", sale.ID, sale.State)
			}
			return domain.NewRuleError("sale %s (%s) is not due until %s", sale.ID, sale.State, sale.ExpiresAt.Format(time.RFC3339))
		}
		if err := s.ledger.Release(ctx, sale.SlotID, sale.Quantity); err != nil {
			return holdError(sale, err)
		}
		sale.ExpiredAt = &now
		return nil
	})
	if err != nil {
		return domain.Sale{}, 0, err
	}
	s.log.Info("sale expired", zap.String("sale_id", id), zap.Int("released", sale.Quantity))
	s.notify(ctx, EventSaleExpired, sale, *sale.ExpiredAt)
	return sale, sale.Quantity, nil
}

type Patch struct {
	Quantity *int
	UserID   *string
	Notes    *string
	// Metadata is merged key by key; a nil value removes the key.
	Metadata map[string]any
}

// Update merges p into a non-terminal sale. Quantity, and with it
// total_price, is fixed at creation; a patch may only repeat the current
// value. Once the sale has left draft only notes and metadata may change.
func (s *Service) Update(ctx context.Context, id string, p Patch) (sale domain.Sale, err error) {
	ctx, span := s.startSpan(ctx, "sales.Update", id)
	defer func() { endSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := s.repo.GetSaleForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if cur.State.Terminal() {
			return domain.NewRuleError("sale %s is %s and can no longer be updated", cur.ID, cur.State)
		}
		if p.Quantity != nil && *p.Quantity != cur.Quantity {
			return domain.NewRuleError("sale %s: quantity is fixed at creation; cancel and create a new sale", cur.ID)
		}
		if cur.State != domain.StateDraft && p.UserID != nil {
			return domain.NewRuleError("sale %s is %s: only notes and metadata may change outside draft", cur.ID, cur.State)
		}
		if p.UserID != nil {
			cur.UserID = p.UserID
		}
		if p.Notes != nil {
			cur.Notes = p.Notes
		}
		if len(p.Metadata) > 0 {
			if cur.Metadata == nil {
				cur.Metadata = map[string]any{}
			}
			for k, v := range p.Metadata {
				if v == nil {
					delete(cur.Metadata, k)
					continue
				}
				cur.Metadata[k] = v
			}
		}
		cur.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateSale(txCtx, cur); err != nil {
			return err
		}
		sale = cur
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.notify(ctx, EventSaleUpdated, sale, sale.UpdatedAt)
	return sale, nil
}

// Delete removes a draft sale. Any other state may hold stock or history.
func (s *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "sales.Delete", id)
	defer func() { endSpan(span, err) }()

	var deleted domain.Sale
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := s.repo.GetSaleForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if cur.State != domain.StateDraft {
			return domain.NewRuleError("sale %s: delete requires %s, current state %s", cur.ID, domain.StateDraft, cur.State)
		}
		deleted = cur
		return s.repo.DeleteSale(txCtx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("sale deleted", zap.String("sale_id", id))
	s.notify(ctx, EventSaleDeleted, deleted, s.clock.Now())
	return nil
}

type applyFunc func(ctx context.Context, sale *domain.Sale, now time.Time) error

// transition locks the sale, checks the move against the transition table
// and runs apply before persisting. apply sees the sale in its old state;
// an error from apply rolls back everything it did.
func (s *Service) transition(ctx context.Context, id string, target domain.State, apply applyFunc) (domain.Sale, error) {
	var out domain.Sale
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		sale, err := s.repo.GetSaleForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(sale.State, target) {
			return &domain.TransitionError{
				SaleID:   sale.ID,
				Current:  sale.State,
				Target:   target,
				Required: domain.Sources(target),
			}
		}
		now := s.clock.Now()
		if err := apply(txCtx, &sale, now); err != nil {
			return err
		}
		sale.State = target
		sale.UpdatedAt = now
		if err := s.repo.UpdateSale(txCtx, sale); err != nil {
			return fmt.Errorf("update sale %s: %w", sale.ID, err)
		}
		out = sale
		return nil
	})
	return out, err
}

// holdError turns a missing hold into a business rule failure; store and
// lock failures pass through for the caller to retry.
func holdError(sale *domain.Sale, err error) error {
	if errors.Is(err, domain.ErrInsufficientStock) {
		return domain.NewRuleError("sale %s (%s): slot %s no longer holds %d reserved units: %v",
			sale.ID, sale.State, sale.SlotID, sale.Quantity, err)
	}
	return err
}

func validateQuantity(q int) error {
	if q < domain.MinSaleQuantity || q > domain.MaxSaleQuantity {
		return domain.NewValidationError("quantity must be in [%d,%d], got %d", domain.MinSaleQuantity, domain.MaxSaleQuantity, q)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, typ string, sale domain.Sale, at time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, newEvent(typ, sale, at)); err != nil {
		s.log.Warn("sale notification failed",
			zap.String("event_type", typ),
			zap.String("sale_id", sale.ID),
			zap.Error(err))
	}
}

func (s *Service) startSpan(ctx context.Context, name, saleID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("sale_id", saleID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
