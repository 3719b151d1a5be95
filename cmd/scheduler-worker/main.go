package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/internal/authority"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/scheduler"
	"github.com/vaultline/treasury-backend/internal/trading"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db"
	"github.com/vaultline/treasury-backend/pkg/instance"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	"github.com/vaultline/treasury-backend/pkg/migrate"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "scheduler-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "scheduler-worker"

	logg = logger.New(logger.Options{
		ServiceName: "scheduler-worker",
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

	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	walletMetrics := metrics.NewWalletMetrics(prometheus.DefaultRegisterer)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	auditRecorder, err := audit.NewRecorder(audit.NewRepository(dbClient.DB()), dbClient, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}

	walletService, err := wallet.NewService(wallet.NewRepository(dbClient.DB()), dbClient, outboxService, auditRecorder, walletMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	gate, err := buildGateway(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	tradingService, err := trading.NewService(
		trading.NewRepository(dbClient.DB()),
		dbClient,
		walletService,
		gate,
		authority.NewPolicy(cfg.Trading, cfg.Treasury),
		outboxService,
		auditRecorder,
		cfg.Trading,
		cfg.Treasury,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create trading service", err)
		os.Exit(1)
	}

	runner, err := scheduler.NewRunner(scheduler.RunnerParams{
		Logger:    logg,
		Repo:      scheduler.NewRepository(dbClient.DB()),
		TxRunner:  dbClient,
		Wallet:    walletService,
		Trading:   tradingService,
		Gateway:   gate,
		Outbox:    outboxService,
		Audits:    auditRecorder,
		Redis:     redisClient,
		Metrics:   jobMetrics,
		Treasury:  cfg.Treasury,
		Scheduler: cfg.Scheduler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler runner", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting scheduler worker")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "scheduler worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "scheduler worker shutting down gracefully")
}

// buildGateway picks the HTTP rail when one is configured, otherwise the
// in-memory fake so local stacks run without credentials.
func buildGateway(cfg *config.Config, logg *logger.Logger) (gateway.Gateway, error) {
	if cfg.Gateway.BaseURL == "" {
		logg.Warn(context.Background(), "payment gateway not configured, using in-memory fake")
		return gateway.NewFake(), nil
	}
	return gateway.NewHTTPGateway(cfg.Gateway)
}
