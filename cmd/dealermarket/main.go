// Package main запускает HTTP-сервер коммерческого сервиса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avoronin/dealermarket-system/internal/config"
	"github.com/avoronin/dealermarket-system/internal/gateway"
	"github.com/avoronin/dealermarket-system/internal/handler"
	"github.com/avoronin/dealermarket-system/internal/middleware"
	"github.com/avoronin/dealermarket-system/internal/pricing"
	"github.com/avoronin/dealermarket-system/internal/repository"
	"github.com/avoronin/dealermarket-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.New(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var gatewayClient service.Gateway
	if cfg.GatewayAddress != "" {
		gatewayClient = gateway.NewClient(cfg.GatewayAddress, cfg.GatewaySecret)
	}

	svc := service.NewService(repo, gatewayClient, nil, nil, service.Options{
		Pricing: pricing.Params{
			TaxRate:                          cfg.TaxRate,
			ShippingFeeCents:                 cfg.ShippingFeeCents,
			FreeShippingThresholdCents:       cfg.FreeShippingCents,
			DealerFreeShippingThresholdCents: cfg.DealerFreeShippingCents,
		},
		CashOnDeliveryCapCents: cfg.CashOnDeliveryCapCents,
		DefaultCurrency:        cfg.DefaultCurrency,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового опроса платёжного шлюза
	g.Go(func() error {
		svc.StartPaymentStatusUpdates(ctx, logger)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting dealermarket server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
