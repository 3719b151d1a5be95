package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaultline/treasury-backend/api/routes"
	"github.com/vaultline/treasury-backend/internal/approvals"
	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/internal/authority"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/internal/scheduler"
	"github.com/vaultline/treasury-backend/internal/trading"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	"github.com/vaultline/treasury-backend/pkg/migrate"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	verifier, err := authority.NewVerifier(cfg.Authority)
	if err != nil {
		logg.Error(context.Background(), "failed to create authority verifier", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(registry)
	walletMetrics := metrics.NewWalletMetrics(registry)
	jobMetrics := metrics.NewJobMetrics(registry)

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

	approvalsService, err := approvals.NewService(approvals.NewRepository(dbClient.DB()), dbClient, outboxService, auditRecorder)
	if err != nil {
		logg.Error(context.Background(), "failed to create approvals service", err)
		os.Exit(1)
	}

	targetsService, err := scheduler.NewTargets(scheduler.NewRepository(dbClient.DB()), dbClient, auditRecorder, cfg.Treasury)
	if err != nil {
		logg.Error(context.Background(), "failed to create targets service", err)
		os.Exit(1)
	}

	jobRunner, err := scheduler.NewRunner(scheduler.RunnerParams{
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
		logg.Error(context.Background(), "failed to create job runner", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			verifier,
			registry,
			httpMetrics,
			walletService,
			tradingService,
			approvalsService,
			auditRecorder,
			jobRunner,
			targetsService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
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
