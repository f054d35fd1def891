package main

import (
	"context"
	"log"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/app"
	"github.com/ariefcatur/go-vending-sales/internal/config"
	kafkax "github.com/ariefcatur/go-vending-sales/internal/kafka"
	"github.com/ariefcatur/go-vending-sales/internal/logx"
	"github.com/ariefcatur/go-vending-sales/internal/redisx"
	"github.com/ariefcatur/go-vending-sales/internal/shutdown"
	"github.com/ariefcatur/go-vending-sales/internal/sweeper"
	"github.com/ariefcatur/go-vending-sales/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.Log.Level, cfg.Log.Encoding, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	tracing.Setup()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	sw := sweeper.New(a.Store, a.Sales, a.Clock,
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithBatch(cfg.Sweeper.Batch),
		sweeper.WithLocker(redisx.NewLease(a.Redis)),
		sweeper.WithLogger(logger),
	)

	handler := kafkax.NewPaymentHandler(a.Payments, a.Checkout, redisx.NewDedup(a.Redis, cfg.Kafka.Group), logger)
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, kafkax.TopicPaymentAuthorized, cfg.Kafka.Workers, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sw.Run(ctx); err != nil {
			logger.Error("sweeper exit", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("payment consumer started",
			zap.String("group", cfg.Kafka.Group),
			zap.String("topic", kafkax.TopicPaymentAuthorized),
			zap.Int("workers", cfg.Kafka.Workers))
		if err := cons.Start(ctx, handler.Handle); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down worker")
	wg.Wait()
	a.Close()
}
