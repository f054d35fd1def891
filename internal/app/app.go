// Package app wires the sale lifecycle to its stores and transports from
// configuration. Both binaries build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/clock"
	"github.com/ariefcatur/go-vending-sales/internal/config"
	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/httpx"
	kafkax "github.com/ariefcatur/go-vending-sales/internal/kafka"
	"github.com/ariefcatur/go-vending-sales/internal/ledger"
	"github.com/ariefcatur/go-vending-sales/internal/memstore"
	"github.com/ariefcatur/go-vending-sales/internal/payment"
	"github.com/ariefcatur/go-vending-sales/internal/pickup"
	"github.com/ariefcatur/go-vending-sales/internal/postgres"
	"github.com/ariefcatur/go-vending-sales/internal/pricing"
	"github.com/ariefcatur/go-vending-sales/internal/redisx"
	"github.com/ariefcatur/go-vending-sales/internal/sales"
	"github.com/ariefcatur/go-vending-sales/migrations"
)

// Store is what both drivers provide.
type Store interface {
	sales.Repository
	ledger.Ledger
	httpx.SlotStore
	ListExpiredSales(ctx context.Context, now time.Time, limit int) ([]domain.Sale, error)
}

type App struct {
	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Store  Store
	Prices interface {
		pricing.Resolver
		httpx.PriceWriter
	}
	Redis    *redis.Client
	Payments *payment.Registry
	Cache    *redisx.StatusCache
	Producer *kafkax.Producer
	Sales    *sales.Service
	Checkout *sales.Checkout

	closers []func()
}

// New connects every backing service named by cfg. The producer is started
// on ctx; call Close after ctx is canceled to flush it.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Clock: clock.NewSystem()}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, int32(cfg.Postgres.MaxConns))
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := migrations.Apply(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		st := postgres.NewStore(pool, postgres.WithLockTimeout(cfg.Postgres.LockTimeout))
		a.Store, a.Prices = st, st
	case config.DriverMemory:
		a.Store = memstore.New(memstore.WithClock(a.Clock))
		a.Prices = pricing.NewStatic()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	a.Redis = redisx.New(cfg.Redis.Addr)
	a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	if err := redisx.Ping(ctx, a.Redis); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.Payments = payment.NewRegistry(a.Redis)
	a.Cache = redisx.NewStatusCache(a.Redis)

	a.Producer = kafkax.NewProducer(cfg.Kafka.Brokers, 1024, log)
	a.Producer.Start()

	issuer, err := pickup.NewIssuer(cfg.Sales.PickupCodeLength)
	if err != nil {
		a.Close()
		return nil, err
	}

	invalidate := sales.NotifierFunc(func(ctx context.Context, ev sales.Event) error {
		return a.Cache.Invalidate(ctx, ev.SaleID, ev.OccurredAt)
	})
	a.Sales = sales.NewService(
		a.Store,
		ledger.WithTimeout(a.Store, cfg.Postgres.LockTimeout, log),
		a.Prices,
		a.Clock,
		sales.WithDefaultTTL(cfg.Sales.DefaultTTLMinutes),
		sales.WithIssuer(issuer),
		sales.WithNotifier(sales.Notifiers(invalidate, kafkax.NewPublisher(a.Producer, cfg.ServiceName))),
		sales.WithLogger(log),
	)
	a.Checkout = sales.NewCheckout(a.Sales, a.Payments, log)
	return a, nil
}

// Close flushes the producer and releases connections in reverse order.
func (a *App) Close() {
	if a.Producer != nil {
		a.Producer.Close()
		a.Producer.WaitClosed()
		a.Producer = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
