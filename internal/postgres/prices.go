package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-vending-sales/internal/pricing"
)

var _ pricing.Resolver = (*Store)(nil)

// Resolve picks the most specific price (machine, then location, then
// global) with the latest valid_from at or before q.AsOf.
func (s *Store) Resolve(ctx context.Context, q pricing.Query) (int64, bool, error) {
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	var amount int64
	err := s.q(ctx).QueryRow(ctx, `
SELECT amount FROM prices
WHERE product_id = $1
	AND (machine_id IS NULL OR machine_id = $2)
	AND (location_id IS NULL OR location_id = $3)
	AND valid_from <= $4
	AND (valid_to IS NULL OR valid_to > $4)
ORDER BY (machine_id IS NOT NULL) DESC, (location_id IS NOT NULL) DESC, valid_from DESC
LIMIT 1`, q.ProductID, nullIfEmpty(q.MachineID), nullIfEmpty(q.LocationID), asOf).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("resolve price", err)
	}
	return amount, true, nil
}

// PutPrice adds a price list entry.
func (s *Store) PutPrice(ctx context.Context, e pricing.Entry) error {
	validFrom := e.ValidFrom
	if validFrom.IsZero() {
		validFrom = time.Now().UTC()
	}
	_, err := s.q(ctx).Exec(ctx, `
INSERT INTO prices (product_id, location_id, machine_id, amount, valid_from, valid_to)
VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ProductID, nullIfEmpty(e.LocationID), nullIfEmpty(e.MachineID), e.Amount, validFrom, e.ValidTo)
	return storeErr("insert price", err)
}
