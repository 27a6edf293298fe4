package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farmlink/farmlink-backend/api/controllers"
	"github.com/farmlink/farmlink-backend/api/middleware"
	"github.com/farmlink/farmlink-backend/internal/checkout"
	"github.com/farmlink/farmlink-backend/internal/orders"
	"github.com/farmlink/farmlink-backend/internal/payments"
	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/db"
	"github.com/farmlink/farmlink-backend/pkg/enums"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
	pkgredis "github.com/farmlink/farmlink-backend/pkg/redis"
)

// Store is the Redis surface the HTTP layer needs: readiness, idempotency
// records and push rate counters.
type Store interface {
	pkgredis.Pinger
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type pushInitiator interface {
	Initiate(ctx context.Context, in payments.PushInput) (*mpesa.PushResponse, error)
}

type callbackHandler interface {
	HandleRawCallback(ctx context.Context, body []byte) enums.CallbackOutcome
}

type paymentLister interface {
	List(ctx context.Context, params payments.AdminListParams) (*payments.PaymentList, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store Store,
	gatherer prometheus.Gatherer,
	mpesaTokens tokenSource,
	pushService pushInitiator,
	reconciler callbackHandler,
	checkoutService checkout.Service,
	ordersService orders.Service,
	adminPayments paymentLister,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Frontend),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		redisPinger      controllers.Pinger
		rateStore        interface {
			FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
		}
	)
	if store != nil {
		idempotencyStore, redisPinger, rateStore = store, store, store
	}
	pushPolicy := middleware.PushRateLimitPolicy{
		Window:     cfg.RateLimit.PushWindow,
		IPLimit:    cfg.RateLimit.PushIPLimit,
		PhoneLimit: cfg.RateLimit.PushPhoneLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/mpesa", func(r chi.Router) {
		r.Post("/callback", controllers.MpesaCallback(reconciler, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/token", controllers.MpesaToken(mpesaTokens, logg))
			r.With(
				middleware.RequireRole(logg, enums.UserRoleBuyer),
				middleware.PushRateLimit(pushPolicy, rateStore, logg),
			).Post("/stkpush", controllers.MpesaSTKPush(pushService, logg))
		})
	})

	r.Route("/api/buyer", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleBuyer))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/checkout", controllers.BuyerCheckout(checkoutService, logg))
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.BuyerCreateOrder(checkoutService, logg))
			r.Get("/{orderId}", controllers.BuyerOrderDetail(ordersService, logg))
			r.Put("/{orderId}/cancel", controllers.BuyerCancelOrder(ordersService, logg))
			r.Post("/{orderId}/receipt", controllers.BuyerRequestReceipt(ordersService, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Get("/payments", controllers.AdminPayments(adminPayments, logg))
	})

	return r
}
