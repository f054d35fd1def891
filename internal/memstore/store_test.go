package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

func TestCreateSlotValidation(t *testing.T) {
	ctx := context.Background()
	s := New()

	tests := []struct {
		name string
		slot domain.Slot
		want error
	}{
		{name: "zero capacity", slot: domain.Slot{MachineID: "m", SlotNumber: 1, Capacity: 0}, want: domain.ErrValidation},
		{name: "capacity above bound", slot: domain.Slot{MachineID: "m", SlotNumber: 1, Capacity: 51}, want: domain.ErrValidation},
		{name: "non-positive slot number", slot: domain.Slot{MachineID: "m", SlotNumber: 0, Capacity: 5}, want: domain.ErrValidation},
		{name: "counters over capacity", slot: domain.Slot{MachineID: "m", SlotNumber: 1, Capacity: 5, Available: 4, Reserved: 2}, want: domain.ErrBusinessRule},
		{name: "negative price override", slot: domain.Slot{MachineID: "m", SlotNumber: 1, Capacity: 5, PriceOverride: domain.Ptr(int64(-1))}, want: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateSlot(ctx, tt.slot); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("duplicate slot number per machine", func(t *testing.T) {
		if _, err := s.CreateSlot(ctx, domain.Slot{MachineID: "m", SlotNumber: 3, Capacity: 5}); err != nil {
			t.Fatalf("first create: %v", err)
		}
		if _, err := s.CreateSlot(ctx, domain.Slot{MachineID: "m", SlotNumber: 3, Capacity: 5}); !errors.Is(err, domain.ErrSlotConflict) {
			t.Fatalf("expected ErrSlotConflict, got %v", err)
		}
		if _, err := s.CreateSlot(ctx, domain.Slot{MachineID: "other", SlotNumber: 3, Capacity: 5}); err != nil {
			t.Fatalf("same number on another machine: %v", err)
		}
	})
}

func TestListSlotsOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, n := range []int{3, 1, 2} {
		if _, err := s.CreateSlot(ctx, domain.Slot{MachineID: "m-1", SlotNumber: n, Capacity: 5}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.CreateSlot(ctx, domain.Slot{MachineID: "m-2", SlotNumber: 1, Capacity: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.ListSlots(ctx, "m-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(got))
	}
	for i, slot := range got {
		if slot.SlotNumber != i+1 {
			t.Fatalf("expected slot %d at index %d, got %d", i+1, i, slot.SlotNumber)
		}
	}
}

func TestDeleteSlotReferencedBySale(t *testing.T) {
	ctx := context.Background()
	s := New()
	slot := seedSlot(t, s, 5, 5)
	if err := s.CreateSale(ctx, domain.Sale{ID: "s-1", SlotID: slot.ID, State: domain.StateDraft}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if err := s.DeleteSlot(ctx, slot.ID); !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected ErrBusinessRule, got %v", err)
	}

	sale, _ := s.GetSale(ctx, "s-1")
	sale.State = domain.StateCanceled
	if err := s.UpdateSale(ctx, sale); err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if err := s.DeleteSlot(ctx, slot.ID); err != nil {
		t.Fatalf("delete slot: %v", err)
	}
	if _, err := s.GetSlot(ctx, slot.ID); !errors.Is(err, domain.ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}
}

func TestGetSaleForUpdateBlocksOtherTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()
	slot := seedSlot(t, s, 5, 5)
	if err := s.CreateSale(ctx, domain.Sale{ID: "s-1", SlotID: slot.ID, State: domain.StateDraft}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := s.GetSaleForUpdate(txCtx, "s-1"); err != nil {
				return err
			}
			// Re-reading inside the same transaction must not deadlock.
			if _, err := s.GetSaleForUpdate(txCtx, "s-1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.WithTx(waitCtx, func(txCtx context.Context) error {
		_, err := s.GetSaleForUpdate(txCtx, "s-1")
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second transaction to wait, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first transaction: %v", err)
	}
	err = s.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.GetSaleForUpdate(txCtx, "s-1")
		return err
	})
	if err != nil {
		t.Fatalf("expected lock to be free after commit, got %v", err)
	}
}

func TestListExpiredSales(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	slot := seedSlot(t, s, 5, 5)

	past := now.Add(-time.Minute)
	older := now.Add(-time.Hour)
	future := now.Add(time.Minute)
	sales := []domain.Sale{
		{ID: "paid-past", SlotID: slot.ID, State: domain.StatePaid, ExpiresAt: &past},
		{ID: "reserved-older", SlotID: slot.ID, State: domain.StateReserved, ExpiresAt: &older},
		{ID: "paid-future", SlotID: slot.ID, State: domain.StatePaid, ExpiresAt: &future},
		{ID: "reserved-no-ttl", SlotID: slot.ID, State: domain.StateReserved},
		{ID: "fulfilled-past", SlotID: slot.ID, State: domain.StateFulfilled, ExpiresAt: &past},
	}
	for _, sale := range sales {
		if err := s.CreateSale(ctx, sale); err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	got, err := s.ListExpiredSales(ctx, now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(got) != 2 || got[0].ID != "reserved-older" || got[1].ID != "paid-past" {
		t.Fatalf("unexpected expired set: %+v", got)
	}

	got, _ = s.ListExpiredSales(ctx, now, 1)
	if len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}
