package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/giftship-backend/api/controllers"
	"github.com/angelmondragon/giftship-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/giftship-backend/internal/checkout"
	"github.com/angelmondragon/giftship-backend/pkg/config"
	"github.com/angelmondragon/giftship-backend/pkg/db"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/giftship-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer depends on.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	checkoutService checkoutsvc.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.EmailLimit,
	)
	throttled := middleware.RateLimit(checkoutPolicy, redisStore, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisStore,
		}))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/registries/{"+middleware.RegistryParam+"}", func(r chi.Router) {
		r.Use(middleware.Registry(logg))
		r.Use(middleware.Idempotency(redisStore, logg))

		r.Post("/shipping-groups", controllers.SplitShippingGroups(checkoutService, logg))
		r.With(throttled).Post("/orders", controllers.CreateOrders(checkoutService, logg))
		r.Post("/orders/coordinate", controllers.CoordinateDeliveries(checkoutService, logg))
		r.Post("/notifications", controllers.SendNotifications(checkoutService, logg))
		r.With(throttled).Post("/checkout", controllers.Checkout(checkoutService, logg))
	})

	return r
}
