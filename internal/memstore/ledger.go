package memstore

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/ledger"
)

var _ ledger.Ledger = (*Store)(nil)

func (s *Store) Reserve(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpReserve, slotID, qty)
}

func (s *Store) Release(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpRelease, slotID, qty)
}

func (s *Store) Consume(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpConsume, slotID, qty)
}

// mutate serializes on the slot's lock, then checks and applies the change
// in one step. The slot lock is held only for the duration of the call.
func (s *Store) mutate(ctx context.Context, op ledger.Op, slotID string, qty int) error {
	if qty <= 0 {
		return domain.NewValidationError("ledger %s: qty must be positive, got %d", op, qty)
	}
	ch := s.lockChan(s.slotLocks, slotID)
	if err := acquire(ctx, ch); err != nil {
		return fmt.Errorf("%s slot %s: wait for lock: %w", op, slotID, err)
	}
	defer func() { <-ch }()

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}

	var dAvail, dReserved int
	switch op {
	case ledger.OpReserve:
		if slot.Available < qty {
			return fmt.Errorf("slot %s: want %d, available %d: %w", slotID, qty, slot.Available, domain.ErrInsufficientStock)
		}
		dAvail, dReserved = -qty, qty
	case ledger.OpRelease:
		if slot.Reserved < qty {
			return fmt.Errorf("slot %s: release %d, reserved %d: %w", slotID, qty, slot.Reserved, domain.ErrInsufficientStock)
		}
		dAvail, dReserved = qty, -qty
	case ledger.OpConsume:
		if slot.Reserved < qty {
			return fmt.Errorf("slot %s: consume %d, reserved %d: %w", slotID, qty, slot.Reserved, domain.ErrInsufficientStock)
		}
		dReserved = -qty
	default:
		return fmt.Errorf("ledger: unknown op %q", op)
	}

	next := *slot
	next.Available += dAvail
	next.Reserved += dReserved
	if err := next.CheckCounters(); err != nil {
		return err
	}
	next.UpdatedAt = s.clock.Now()
	*slot = next

	record(ctx, func() {
		if cur, ok := s.slots[slotID]; ok {
			cur.Available -= dAvail
			cur.Reserved -= dReserved
		}
	})
	return nil
}
