package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

const slotColumns = `id::text, machine_id, slot_number, product_id, capacity, available, reserved,
	price_override, active, created_at, updated_at`

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.MachineID, &s.SlotNumber, &s.ProductID, &s.Capacity, &s.Available, &s.Reserved,
		&s.PriceOverride, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (s *Store) CreateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if err := slot.Validate(); err != nil {
		return domain.Slot{}, err
	}
	row := s.q(ctx).QueryRow(ctx, `
INSERT INTO slots (id, machine_id, slot_number, product_id, capacity, available, reserved, price_override, active)
VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+slotColumns,
		nullIfEmpty(slot.ID), slot.MachineID, slot.SlotNumber, slot.ProductID, slot.Capacity,
		slot.Available, slot.Reserved, slot.PriceOverride, slot.Active)
	created, err := scanSlot(row)
	switch {
	case err == nil:
		return created, nil
	case isUniqueViolation(err):
		return domain.Slot{}, domain.ErrSlotConflict
	case isCheckViolation(err):
		return domain.Slot{}, domain.NewValidationError("slot rejected by constraint: %v", err)
	case isInvalidUUID(err):
		return domain.Slot{}, domain.NewValidationError("slot id %q is not a uuid", slot.ID)
	}
	return domain.Slot{}, storeErr("insert slot", err)
}

func (s *Store) GetSlot(ctx context.Context, id string) (domain.Slot, error) {
	slot, err := scanSlot(s.q(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return domain.Slot{}, domain.ErrSlotNotFound
	}
	if err != nil {
		return domain.Slot{}, storeErr("get slot", err)
	}
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, machineID string) ([]domain.Slot, error) {
	rows, err := s.q(ctx).Query(ctx, `
SELECT `+slotColumns+` FROM slots
WHERE ($1::text IS NULL OR machine_id = $1)
ORDER BY machine_id, slot_number`, nullIfEmpty(machineID))
	if err != nil {
		return nil, storeErr("list slots", err)
	}
	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, storeErr("scan slot", err)
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list slots", err)
	}
	return out, nil
}

// DeleteSlot refuses while any non-terminal sale still points at the slot.
func (s *Store) DeleteSlot(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := scanSlot(s.q(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id)); err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
				return domain.ErrSlotNotFound
			}
			return storeErr("lock slot", err)
		}
		var saleID string
		var state domain.State
		err := s.q(ctx).QueryRow(ctx, `
SELECT id::text, state FROM sales
WHERE slot_id = $1 AND state IN ('draft', 'reserved', 'paid')
LIMIT 1`, id).Scan(&saleID, &state)
		if err == nil {
			return domain.NewRuleError("slot %s is referenced by %s sale %s", id, state, saleID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return storeErr("check slot references", err)
		}
		if _, err := s.q(ctx).Exec(ctx, `DELETE FROM slots WHERE id = $1`, id); err != nil {
			return storeErr("delete slot", err)
		}
		return nil
	})
}
