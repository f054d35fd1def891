package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/app"
	"github.com/ariefcatur/go-vending-sales/internal/config"
	"github.com/ariefcatur/go-vending-sales/internal/httpx"
	"github.com/ariefcatur/go-vending-sales/internal/logx"
	"github.com/ariefcatur/go-vending-sales/internal/shutdown"
	"github.com/ariefcatur/go-vending-sales/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.Log.Level, cfg.Log.Encoding, cfg.ServiceName+"-api")
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

	router := httpx.NewRouter(logger)
	(&httpx.SalesHandler{Sales: a.Sales, Checkout: a.Checkout, Cache: a.Cache, Log: logger}).Register(router)
	(&httpx.AdminHandler{Slots: a.Store, Prices: a.Prices}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.RequestTimeout,
	}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	a.Close()
}
