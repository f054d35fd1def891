package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/ledger"
)

var _ ledger.Ledger = (*Store)(nil)

// Each statement checks its precondition in the WHERE clause, so the check
// and the write happen under the same row lock.
var ledgerSQL = map[ledger.Op]string{
	ledger.OpReserve: `UPDATE slots SET available = available - $2, reserved = reserved + $2, updated_at = NOW()
		WHERE id = $1 AND available >= $2`,
	ledger.OpRelease: `UPDATE slots SET reserved = reserved - $2, available = available + $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2`,
	ledger.OpConsume: `UPDATE slots SET reserved = reserved - $2, updated_at = NOW()
		WHERE id = $1 AND reserved >= $2`,
}

func (s *Store) Reserve(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpReserve, slotID, qty)
}

func (s *Store) Release(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpRelease, slotID, qty)
}

func (s *Store) Consume(ctx context.Context, slotID string, qty int) error {
	return s.mutate(ctx, ledger.OpConsume, slotID, qty)
}

func (s *Store) mutate(ctx context.Context, op ledger.Op, slotID string, qty int) error {
	if qty <= 0 {
		return domain.NewValidationError("ledger %s: qty must be positive, got %d", op, qty)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		if s.lockTimeout > 0 {
			if _, err := q.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
				fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
				return storeErr("set lock_timeout", err)
			}
		}

		tag, err := q.Exec(ctx, ledgerSQL[op], slotID, qty)
		switch {
		case isInvalidUUID(err):
			return domain.ErrSlotNotFound
		case isCheckViolation(err):
			return domain.NewRuleError("slot %s: %s %d would break capacity: %v", slotID, op, qty, err)
		case err != nil:
			return storeErr(fmt.Sprintf("%s slot %s", op, slotID), err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var available, reserved int
		err = q.QueryRow(ctx, `SELECT available, reserved FROM slots WHERE id = $1`, slotID).Scan(&available, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSlotNotFound
		}
		if err != nil {
			return storeErr("read slot", err)
		}
		return fmt.Errorf("slot %s: %s %d with available=%d reserved=%d: %w",
			slotID, op, qty, available, reserved, domain.ErrInsufficientStock)
	})
}
