package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartrent/smartrent-backend/api/controllers"
	"github.com/smartrent/smartrent-backend/api/middleware"
	"github.com/smartrent/smartrent-backend/internal/memberships"
	"github.com/smartrent/smartrent-backend/internal/providers"
	"github.com/smartrent/smartrent-backend/internal/quotas"
	"github.com/smartrent/smartrent-backend/internal/transactions"
	"github.com/smartrent/smartrent-backend/internal/wallet"
	"github.com/smartrent/smartrent-backend/pkg/config"
	"github.com/smartrent/smartrent-backend/pkg/db"
	"github.com/smartrent/smartrent-backend/pkg/logger"
	"github.com/smartrent/smartrent-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	providerRegistry *providers.Registry,
	transactionService transactions.Service,
	membershipService memberships.Service,
	quotaService quotas.Service,
	walletService wallet.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	callbackPolicy := middleware.NewRateLimitPolicy(
		"provider-callback",
		cfg.Payment.CallbackRateWindow,
		cfg.Payment.CallbackRateLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}

	// Provider return and IPN surfaces carry their own signature checks,
	// so they stay outside the authenticated group.
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if redisClient != nil {
				r.Use(middleware.RateLimit(callbackPolicy, redisClient, logg))
			}
			r.Get("/callback/{provider}", controllers.PaymentCallback(transactionService, providerRegistry, logg))
			r.Post("/ipn/{provider}", controllers.PaymentIPN(transactionService, providerRegistry, logg))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if redisClient != nil {
			r.Use(middleware.Idempotency(redisClient, logg))
		}

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.CreatePayment(transactionService, logg))
			r.Get("/", controllers.PaymentHistory(transactionService, logg))
			r.Get("/{transactionId}", controllers.PaymentDetail(transactionService, logg))
			r.Post("/{transactionId}/refund", controllers.RefundPayment(transactionService, logg))
			r.Post("/{transactionId}/cancel", controllers.CancelPayment(transactionService, logg))
		})

		r.Route("/memberships", func(r chi.Router) {
			r.Get("/packages", controllers.ListMembershipPackages(membershipService, logg))
			r.Post("/purchase", controllers.PurchaseMembership(transactionService, logg))
			r.Get("/me", controllers.MyMembership(membershipService, logg))
		})

		r.Route("/quotas", func(r chi.Router) {
			r.Get("/", controllers.QuotaStatuses(quotaService, logg))
			r.Get("/{benefitType}", controllers.QuotaStatus(quotaService, logg))
			r.Post("/{benefitType}/consume", controllers.ConsumeQuota(quotaService, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(walletService, logg))
			r.Get("/entries", controllers.WalletEntries(walletService, logg))
		})
	})

	return r
}
