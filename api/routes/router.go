package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultline/treasury-backend/api/controllers"
	"github.com/vaultline/treasury-backend/api/middleware"
	"github.com/vaultline/treasury-backend/internal/approvals"
	"github.com/vaultline/treasury-backend/internal/trading"
	"github.com/vaultline/treasury-backend/internal/wallet"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	pkgredis "github.com/vaultline/treasury-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	authorityChecker middleware.AuthorityChecker,
	metricsRegistry *prometheus.Registry,
	httpMetrics *metrics.HTTPMetrics,
	walletService wallet.Service,
	tradingService trading.Service,
	approvalsService approvals.Service,
	auditService controllers.AuditLister,
	jobRunner controllers.JobRunner,
	targetsService controllers.TargetsService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Metrics(httpMetrics),
	)

	moneyPolicy := middleware.NewMoneyRateLimitPolicy(
		"money",
		cfg.RateLimit.MoneyWindow,
		cfg.RateLimit.MoneyActorLimit,
		cfg.RateLimit.MoneyIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, authorityChecker, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", controllers.OpenAccount(walletService, logg))
			r.Get("/{accountID}/balance", controllers.AccountBalance(walletService, logg))
			r.Get("/{accountID}/transactions", controllers.AccountTransactions(walletService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.MoneyRateLimit(moneyPolicy, redisClient, logg))
			r.Post("/deposits", controllers.SubmitDeposit(tradingService, logg))
			r.Post("/withdrawals", controllers.SubmitWithdrawal(tradingService, logg))
			r.Post("/trades", controllers.SubmitTrade(tradingService, logg))
			r.Post("/trades/{tradeID}/approve", controllers.ApproveTrade(tradingService, logg))
			r.Post("/trades/{tradeID}/reject", controllers.RejectTrade(tradingService, logg))
		})

		r.Get("/trades", controllers.ListTrades(tradingService, logg))
		r.Get("/trades/{tradeID}", controllers.GetTrade(tradingService, logg))

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", controllers.SubmitApproval(approvalsService, logg))
			r.Get("/", controllers.ListApprovals(approvalsService, logg))
			r.Get("/{requestID}", controllers.GetApproval(approvalsService, logg))
			r.Post("/{requestID}/steps/{step}/approve", controllers.ApproveApprovalStep(approvalsService, logg))
			r.Post("/{requestID}/steps/{step}/reject", controllers.RejectApprovalStep(approvalsService, logg))
		})

		r.Get("/targets/{kind}", controllers.GetTarget(targetsService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthority(logg))
			r.Post("/jobs/{jobID}/run", controllers.RunJobNow(jobRunner, logg))
			r.Put("/targets/{kind}", controllers.SetTarget(targetsService, logg))
			r.Get("/audit", controllers.ListAudit(auditService, logg))
		})
	})

	return r
}
