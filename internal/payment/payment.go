// Package payment holds the payment collaborator contract and a registry of
// provider authorizations fed from the payment event stream.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-vending-sales/internal/redisx"
)

var (
	ErrPaymentNotFound    = errors.New("payment authorization not found")
	ErrAmountMismatch     = errors.New("payment amount mismatch")
	ErrPaymentAlreadyUsed = errors.New("payment reference already used")
)

// Confirmer confirms that ref covers amount for saleID. It may be slow and
// may fail; callers must not have mutated anything they cannot leave in
// place. Confirming the same ref again for the same sale must succeed, so a
// caller can retry after a failure that followed a successful confirm.
type Confirmer interface {
	Confirm(ctx context.Context, saleID, ref string, amount int64) error
}

type ConfirmerFunc func(ctx context.Context, saleID, ref string, amount int64) error

func (f ConfirmerFunc) Confirm(ctx context.Context, saleID, ref string, amount int64) error {
	return f(ctx, saleID, ref, amount)
}

type Authorization struct {
	PaymentRef   string    `json:"payment_ref"`
	Amount       int64     `json:"amount"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// Registry stores authorizations in Redis. Each reference is bound to the
// first sale that confirms it.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb, ttl: redisx.TTLPaymentAuth}
}

func (r *Registry) Record(ctx context.Context, a Authorization) error {
	if a.PaymentRef == "" {
		return errors.New("payment ref is required")
	}
	if a.Amount <= 0 {
		return fmt.Errorf("payment %s: amount must be positive", a.PaymentRef)
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, fmt.Sprintf(redisx.KeyPaymentAuth, a.PaymentRef), b, r.ttl).Err()
}

func (r *Registry) Lookup(ctx context.Context, ref string) (Authorization, error) {
	var a Authorization
	raw, err := r.rdb.Get(ctx, fmt.Sprintf(redisx.KeyPaymentAuth, ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return a, fmt.Errorf("%s: %w", ref, ErrPaymentNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("lookup payment %s: %w", ref, err)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode payment %s: %w", ref, err)
	}
	return a, nil
}

func (r *Registry) Confirm(ctx context.Context, saleID, ref string, amount int64) error {
	if saleID == "" {
		return errors.New("sale id is required")
	}
	a, err := r.Lookup(ctx, ref)
	if err != nil {
		return err
	}
	if a.Amount != amount {
		return fmt.Errorf("%s: authorized %d, sale total %d: %w", ref, a.Amount, amount, ErrAmountMismatch)
	}
	key := fmt.Sprintf(redisx.KeyPaymentUsed, ref)
	first, err := r.rdb.SetNX(ctx, key, saleID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("mark payment %s used: %w", ref, err)
	}
	if first {
		return nil
	}
	owner, err := r.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read payment %s owner: %w", ref, err)
	}
	if owner != saleID {
		return fmt.Errorf("%s: %w", ref, ErrPaymentAlreadyUsed)
	}
	return nil
}
