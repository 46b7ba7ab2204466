package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartrent/smartrent-backend/internal/listings"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/internal/providers/momo"
	"github.com/smartrent/smartrent-backend/internal/providers/paypal"
	"github.com/smartrent/smartrent-backend/internal/providers/vnpay"
	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/internal/settlement"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/internal/wallet"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/metrics"
	"github.com/smartrent/smartrent-backend/pkg/migrate"
	"github.com/smartrent/smartrent-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildProviderRegistry(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to build provider registry", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(promRegistry)
	jobMetrics := metrics.NewCronJobMetrics(promRegistry)

	quotaService, err := quotas.NewService(quotas.ServiceParams{
		Repo:   quotas.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create quota service", err)
		os.Exit(1)
	}

	membershipService, err := memberships.NewService(memberships.ServiceParams{
		Repo:   memberships.NewRepository(dbClient.DB()),
		Quotas: quotaService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create membership service", err)
		os.Exit(1)
	}

	listingService, err := listings.NewService(listings.ServiceParams{
		Repo:   listings.NewRepository(dbClient.DB()),
		Quotas: quotaService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create listing service", err)
		os.Exit(1)
	}

	walletService, err := wallet.NewService(wallet.ServiceParams{
		DB:     dbClient,
		Repo:   wallet.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	transactionRepo := transactions.NewRepository(dbClient.DB())
	transactionService, err := transactions.NewService(transactions.ServiceParams{
		DB:          dbClient,
		Repo:        transactionRepo,
		Registry:    registry,
		Memberships: membershipService,
		Listings:    listingService,
		Wallet:      walletService,
		Redis:       redisClient,
		Metrics:     paymentMetrics,
		Logger:      logg,
		Payment:     cfg.Payment,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		DB:           dbClient,
		Repo:         settlement.NewRepository(dbClient.DB()),
		Transactions: transactionRepo,
		Memberships:  membershipService,
		Listings:     listingService,
		Metrics:      paymentMetrics,
		Logger:       logg,
		Settlement:   cfg.Settlement,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement dispatcher", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		Dispatcher:   settlementService,
		Transactions: transactionService,
		Memberships:  membershipService,
		Quotas:       quotaService,
		Jobs:         jobMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "settlement-worker",
	})
	logg.Info(ctx, "starting settlement worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}

func buildProviderRegistry(cfg *config.Config) (*providers.Registry, error) {
	vnpayAdapter, err := vnpay.New(cfg.VNPay)
	if err != nil {
		return nil, err
	}
	paypalAdapter, err := paypal.New(cfg.PayPal)
	if err != nil {
		return nil, err
	}
	momoAdapter, err := momo.New(cfg.MoMo)
	if err != nil {
		return nil, err
	}
	return providers.NewRegistry(vnpayAdapter, paypalAdapter, momoAdapter), nil
}
