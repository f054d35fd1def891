// Package sweeper periodically expires sales whose pickup window has closed
// and returns their stock to the slot.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/clock"
	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

type Store interface {
	ListExpiredSales(ctx context.Context, now time.Time, limit int) ([]domain.Sale, error)
}

type Expirer interface {
	Expire(ctx context.Context, saleID string) (domain.Sale, int, error)
}

// Locker hands out a short lease so that several workers do not scan the
// same batch. Correctness does not depend on it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type Result struct {
	Scanned       int
	Expired       int
	UnitsReleased int
	Skipped       bool
}

type Sweeper struct {
	store    Store
	sales    Expirer
	clock    clock.Clock
	locker   Locker
	interval time.Duration
	batch    int
	log      *zap.Logger
}

const (
	DefaultInterval = 30 * time.Second
	DefaultBatch    = 100
	leaseName       = "sale-sweeper"
)

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatch(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func New(store Store, sales Expirer, clk clock.Clock, opts ...Option) *Sweeper {
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Sweeper{
		store:    store,
		sales:    sales,
		clock:    clk,
		interval: DefaultInterval,
		batch:    DefaultBatch,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce expires one batch. A sale that has moved on since it was listed
// is rejected by the state machine and simply not counted, so overlapping
// passes never release the same hold twice.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, leaseName, s.interval)
		if err != nil {
			// A lease outage only costs duplicate scanning.
			s.log.Warn("sweep lease unavailable", zap.Error(err))
		} else if !ok {
			res.Skipped = true
			return res, nil
		} else {
			defer release()
		}
	}

	due, err := s.store.ListExpiredSales(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return res, fmt.Errorf("list expired sales: %w", err)
	}
	res.Scanned = len(due)

	var errs []error
	for _, sale := range due {
		_, units, err := s.sales.Expire(ctx, sale.ID)
		switch {
		case err == nil:
			res.Expired++
			res.UnitsReleased += units
		case errors.Is(err, domain.ErrBusinessRule), errors.Is(err, domain.ErrNotFound):
			s.log.Debug("sweep skipped sale", zap.String("sale_id", sale.ID), zap.Error(err))
		default:
			s.log.Error("sweep failed to expire sale", zap.String("sale_id", sale.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("expire %s: %w", sale.ID, err))
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return res, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval), zap.Int("batch", s.batch))
	for {
		res, err := s.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			s.log.Error("sweep pass failed", zap.Error(err), zap.Int("expired", res.Expired))
		case res.Expired > 0:
			s.log.Info("sweep pass",
				zap.Int("scanned", res.Scanned),
				zap.Int("expired", res.Expired),
				zap.Int("units_released", res.UnitsReleased))
		}

		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
