package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/giftship-backend/api/routes"
	"github.com/angelmondragon/giftship-backend/internal/carrier"
	checkoutsvc "github.com/angelmondragon/giftship-backend/internal/checkout"
	"github.com/angelmondragon/giftship-backend/internal/notifications"
	"github.com/angelmondragon/giftship-backend/internal/orders"
	"github.com/angelmondragon/giftship-backend/internal/rates"
	"github.com/angelmondragon/giftship-backend/pkg/config"
	"github.com/angelmondragon/giftship-backend/pkg/db"
	"github.com/angelmondragon/giftship-backend/pkg/instance"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/migrate"
	"github.com/angelmondragon/giftship-backend/pkg/outbox"
	"github.com/angelmondragon/giftship-backend/pkg/redis"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	carrierClient, err := carrier.NewClient(
		cfg.Carrier.APIKey,
		carrier.WithBaseURL(cfg.Carrier.BaseURL),
		carrier.WithCarrierName(cfg.Carrier.DefaultLabel),
		carrier.WithHTTPClient(&http.Client{Timeout: cfg.Carrier.HTTPTimeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create carrier client", err)
		os.Exit(1)
	}

	resolverCfg, err := rates.ConfigFrom(cfg.Rates, cfg.FlatRate)
	if err != nil {
		logg.Error(context.Background(), "failed to build rate resolver config", err)
		os.Exit(1)
	}
	resolver, err := rates.NewResolver(carrierClient, resolverCfg, logg, checkoutMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create rate resolver", err)
		os.Exit(1)
	}

	factory, err := orders.NewFactory(orders.FactoryParams{
		Repo:        orders.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Outbox:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Booker:      carrierClient,
		Logger:      logg,
		Metrics:     checkoutMetrics,
		BookTimeout: cfg.Carrier.BookTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order factory", err)
		os.Exit(1)
	}

	sender, err := notifications.NewHTTPSender(
		cfg.Notifications.ServiceURL,
		cfg.Notifications.APIKey,
		&http.Client{Timeout: cfg.Notifications.SendTimeout},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification sender", err)
		os.Exit(1)
	}
	retryQueue, err := notifications.NewRedisRetryQueue(redisClient, cfg.Notifications.RetryQueue)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification retry queue", err)
		os.Exit(1)
	}
	dispatcher, err := notifications.NewDispatcher(
		sender,
		retryQueue,
		logg,
		checkoutMetrics,
		cfg.Notifications.SendTimeout,
		cfg.Notifications.RetryDelay,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(resolver, factory, dispatcher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
