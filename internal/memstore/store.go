// Package memstore is an in-process store for slots and sales. It gives the
// same guarantees the sale services rely on from Postgres: a serialized
// per-slot ledger, per-sale row locks held until the surrounding transaction
// ends, and all-or-nothing transactions.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-vending-sales/internal/clock"
	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

type Store struct {
	mu    sync.Mutex
	slots map[string]*domain.Slot
	sales map[string]*domain.Sale

	slotLocks map[string]chan struct{}
	saleLocks map[string]chan struct{}

	clock clock.Clock
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		slots:     map[string]*domain.Slot{},
		sales:     map[string]*domain.Sale{},
		slotLocks: map[string]chan struct{}{},
		saleLocks: map[string]chan struct{}{},
		clock:     clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

type tx struct {
	undo []func()
	held []chan struct{}
	// locked sale ids, so a transaction may re-read its own rows
	locked map[string]bool
}

func txFromContext(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
// If fn fails, every write made through the transaction context is undone.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	t := &tx{locked: map[string]bool{}}
	err := fn(context.WithValue(ctx, txKey{}, t))
	if err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()
	}
	for _, ch := range t.held {
		<-ch
	}
	return err
}

// record registers an undo step. Must be called with s.mu held.
func record(ctx context.Context, fn func()) {
	if t := txFromContext(ctx); t != nil {
		t.undo = append(t.undo, fn)
	}
}

func (s *Store) lockChan(m map[string]chan struct{}, id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := m[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m[id] = ch
	}
	return ch
}

func acquire(ctx context.Context, ch chan struct{}) error {
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) CreateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if err := slot.Validate(); err != nil {
		return domain.Slot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if _, ok := s.slots[slot.ID]; ok {
		return domain.Slot{}, domain.ErrSlotConflict
	}
	for _, existing := range s.slots {
		if existing.MachineID == slot.MachineID && existing.SlotNumber == slot.SlotNumber {
			return domain.Slot{}, domain.ErrSlotConflict
		}
	}
	now := s.clock.Now()
	slot.CreatedAt, slot.UpdatedAt = now, now
	stored := slot.Clone()
	s.slots[slot.ID] = &stored
	record(ctx, func() { delete(s.slots, slot.ID) })
	return slot, nil
}

func (s *Store) GetSlot(_ context.Context, id string) (domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	return slot.Clone(), nil
}

func (s *Store) ListSlots(_ context.Context, machineID string) ([]domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		if machineID != "" && slot.MachineID != machineID {
			continue
		}
		out = append(out, slot.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MachineID != out[j].MachineID {
			return out[i].MachineID < out[j].MachineID
		}
		return out[i].SlotNumber < out[j].SlotNumber
	})
	return out, nil
}

// DeleteSlot refuses while any non-terminal sale still points at the slot.
func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return domain.ErrSlotNotFound
	}
	for _, sale := range s.sales {
		if sale.SlotID == id && !sale.State.Terminal() {
			return domain.NewRuleError("slot %s is referenced by %s sale %s", id, sale.State, sale.ID)
		}
	}
	delete(s.slots, id)
	record(ctx, func() { s.slots[id] = slot })
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[sale.SlotID]; !ok {
		return domain.ErrSlotNotFound
	}
	if _, ok := s.sales[sale.ID]; ok {
		return domain.NewValidationError("sale %s already exists", sale.ID)
	}
	stored := sale.Clone()
	s.sales[sale.ID] = &stored
	record(ctx, func() { delete(s.sales, sale.ID) })
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return sale.Clone(), nil
}

// GetSaleForUpdate locks the sale until the surrounding transaction ends.
// Outside a transaction it behaves like GetSale.
func (s *Store) GetSaleForUpdate(ctx context.Context, id string) (domain.Sale, error) {
	if t := txFromContext(ctx); t != nil && !t.locked[id] {
		ch := s.lockChan(s.saleLocks, id)
		if err := acquire(ctx, ch); err != nil {
			return domain.Sale{}, err
		}
		t.held = append(t.held, ch)
		t.locked[id] = true
	}
	return s.GetSale(ctx, id)
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sales[sale.ID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	stored := sale.Clone()
	s.sales[sale.ID] = &stored
	record(ctx, func() { s.sales[sale.ID] = prev })
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sales[id]
	if !ok {
		return domain.ErrSaleNotFound
	}
	delete(s.sales, id)
	record(ctx, func() { s.sales[id] = prev })
	return nil
}

// ListExpiredSales returns stock-holding sales whose deadline lies before
// now, oldest deadline first.
func (s *Store) ListExpiredSales(_ context.Context, now time.Time, limit int) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Sale
	for _, sale := range s.sales {
		if sale.State.HoldsStock() && sale.PastDeadline(now) {
			out = append(out, sale.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
