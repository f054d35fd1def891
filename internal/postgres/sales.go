package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

const saleColumns = `id::text, COALESCE(slot_id::text, ''), product_id, user_id, quantity, unit_price, total_price, state,
	pickup_code, payment_ref, expires_at,
	created_at, reserved_at, paid_at, fulfilled_at, canceled_at, expired_at, updated_at,
	cancel_reason, notes, metadata`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.SlotID, &s.ProductID, &s.UserID, &s.Quantity, &s.UnitPrice, &s.TotalPrice, &s.State,
		&s.PickupCode, &s.PaymentRef, &s.ExpiresAt,
		&s.CreatedAt, &s.ReservedAt, &s.PaidAt, &s.FulfilledAt, &s.CanceledAt, &s.ExpiredAt, &s.UpdatedAt,
		&s.CancelReason, &s.Notes, &s.Metadata)
	return s, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) error {
	_, err := s.q(ctx).Exec(ctx, `
INSERT INTO sales (id, slot_id, product_id, user_id, quantity, unit_price, total_price, state,
	pickup_code, payment_ref, expires_at, created_at, updated_at, notes, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sale.ID, sale.SlotID, sale.ProductID, sale.UserID, sale.Quantity, sale.UnitPrice, sale.TotalPrice, sale.State,
		sale.PickupCode, sale.PaymentRef, sale.ExpiresAt, sale.CreatedAt, sale.UpdatedAt, sale.Notes, sale.Metadata)
	switch {
	case err == nil:
		return nil
	case pgCode(err) == "23503":
		return domain.ErrSlotNotFound
	case isUniqueViolation(err):
		return domain.NewValidationError("sale %s already exists", sale.ID)
	case isCheckViolation(err):
		return domain.NewValidationError("sale rejected by constraint: %v", err)
	}
	return storeErr("insert sale", err)
}

func (s *Store) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.getSale(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

// GetSaleForUpdate holds the sale's row lock until the surrounding
// transaction ends.
func (s *Store) GetSaleForUpdate(ctx context.Context, id string) (domain.Sale, error) {
	return s.getSale(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getSale(ctx context.Context, sql, id string) (domain.Sale, error) {
	sale, err := scanSale(s.q(ctx).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	if err != nil {
		return domain.Sale{}, storeErr("get sale", err)
	}
	return sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) error {
	tag, err := s.q(ctx).Exec(ctx, `
UPDATE sales SET
	user_id = $2, quantity = $3, total_price = $4, state = $5,
	pickup_code = $6, payment_ref = $7, expires_at = $8,
	reserved_at = $9, paid_at = $10, fulfilled_at = $11, canceled_at = $12, expired_at = $13,
	updated_at = $14, cancel_reason = $15, notes = $16, metadata = $17
WHERE id = $1`,
		sale.ID, sale.UserID, sale.Quantity, sale.TotalPrice, sale.State,
		sale.PickupCode, sale.PaymentRef, sale.ExpiresAt,
		sale.ReservedAt, sale.PaidAt, sale.FulfilledAt, sale.CanceledAt, sale.ExpiredAt,
		sale.UpdatedAt, sale.CancelReason, sale.Notes, sale.Metadata)
	if isCheckViolation(err) {
		return domain.NewRuleError("sale %s rejected by constraint: %v", sale.ID, err)
	}
	if err != nil {
		return storeErr("update sale", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSaleNotFound
	}
	return nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if isInvalidUUID(err) {
		return domain.ErrSaleNotFound
	}
	if err != nil {
		return storeErr("delete sale", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSaleNotFound
	}
	return nil
}

// ListExpiredSales returns stock-holding sales whose deadline lies before
// now, oldest deadline first.
func (s *Store) ListExpiredSales(ctx context.Context, now time.Time, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).Query(ctx, `
SELECT `+saleColumns+` FROM sales
WHERE state IN ('reserved', 'paid') AND expires_at IS NOT NULL AND expires_at < $1
ORDER BY expires_at
LIMIT $2`, now, limit)
	if err != nil {
		return nil, storeErr("list expired sales", err)
	}
	defer rows.Close()

	var out []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, storeErr("scan sale", err)
		}
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list expired sales", err)
	}
	return out, nil
}
