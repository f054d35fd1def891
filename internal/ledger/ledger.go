// Package ledger defines the slot stock ledger: the only code path allowed to
// move units between a slot's available and reserved counters.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

// Ledger mutates one slot atomically. Implementations must make the
// precondition check and the counter update a single step, so that two
// concurrent callers cannot both pass the check.
//
//	Reserve: available >= qty; available -= qty; reserved += qty
//	Release: reserved >= qty;  reserved -= qty;  available += qty
//	Consume: reserved >= qty;  reserved -= qty
//
// All three return domain.ErrSlotNotFound for unknown slots and
// domain.ErrInsufficientStock when the precondition fails. When ctx carries
// a store transaction the mutation joins it.
type Ledger interface {
	Reserve(ctx context.Context, slotID string, qty int) error
	Release(ctx context.Context, slotID string, qty int) error
	Consume(ctx context.Context, slotID string, qty int) error
}

type Op string

const (
	OpReserve Op = "reserve"
	OpRelease Op = "release"
	OpConsume Op = "consume"
)

// Apply dispatches op to l.
func Apply(ctx context.Context, l Ledger, op Op, slotID string, qty int) error {
	if qty <= 0 {
		return domain.NewValidationError("ledger %s: qty must be positive, got %d", op, qty)
	}
	switch op {
	case OpReserve:
		return l.Reserve(ctx, slotID, qty)
	case OpRelease:
		return l.Release(ctx, slotID, qty)
	case OpConsume:
		return l.Consume(ctx, slotID, qty)
	}
	return fmt.Errorf("ledger: unknown op %q", op)
}

type timeoutLedger struct {
	next    Ledger
	timeout time.Duration
	log     *zap.Logger
}

// WithTimeout bounds every call to next. A call that runs out of time while
// waiting on the slot's serialization primitive fails with
// domain.ErrLockTimeout instead of the raw context error.
func WithTimeout(next Ledger, d time.Duration, log *zap.Logger) Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	if d <= 0 {
		return next
	}
	return &timeoutLedger{next: next, timeout: d, log: log}
}

func (t *timeoutLedger) Reserve(ctx context.Context, slotID string, qty int) error {
	return t.do(ctx, OpReserve, slotID, qty)
}

func (t *timeoutLedger) Release(ctx context.Context, slotID string, qty int) error {
	return t.do(ctx, OpRelease, slotID, qty)
}

func (t *timeoutLedger) Consume(ctx context.Context, slotID string, qty int) error {
	return t.do(ctx, OpConsume, slotID, qty)
}

func (t *timeoutLedger) do(ctx context.Context, op Op, slotID string, qty int) error {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := Apply(opCtx, t.next, op, slotID, qty)
	if err == nil {
		return nil
	}
	// Only our own deadline is a lock timeout; a canceled caller is not.
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrLockTimeout) {
		t.log.Warn("ledger lock timeout",
			zap.String("op", string(op)),
			zap.String("slot_id", slotID),
			zap.Int("qty", qty),
			zap.Duration("timeout", t.timeout))
		return fmt.Errorf("%s slot %s: %w", op, slotID, domain.ErrLockTimeout)
	}
	return err
}
