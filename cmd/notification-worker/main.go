package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/giftship-backend/internal/notifications"
	"github.com/angelmondragon/giftship-backend/pkg/config"
	"github.com/angelmondragon/giftship-backend/pkg/db"
	"github.com/angelmondragon/giftship-backend/pkg/idempotency"
	"github.com/angelmondragon/giftship-backend/pkg/instance"
	"github.com/angelmondragon/giftship-backend/pkg/logger"
	"github.com/angelmondragon/giftship-backend/pkg/metrics"
	"github.com/angelmondragon/giftship-backend/pkg/outbox"
	"github.com/angelmondragon/giftship-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notification-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "notification-worker",
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

	queue, err := notifications.NewRedisRetryQueue(redisClient, cfg.Notifications.RetryQueue)
	if err != nil {
		logg.Error(context.Background(), "failed to create retry queue", err)
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
	guard, err := idempotency.NewManager(redisClient, cfg.Notifications.HandledTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	worker, err := notifications.NewWorker(notifications.WorkerParams{
		Queue:       queue,
		Sender:      sender,
		Guard:       guard,
		Tx:          dbClient,
		Outbox:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:      logg,
		Metrics:     metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer),
		MaxAttempts: cfg.Notifications.MaxAttempts,
		PollWait:    cfg.Notifications.PollInterval,
		SendTimeout: cfg.Notifications.SendTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification worker", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Redis:  redisClient,
		Worker: worker,
		Queue:  queue,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "notification-worker",
		"queue":       cfg.Notifications.RetryQueue,
		"instance":    instance.GetID("worker-0"),
	})
	logg.Info(ctx, "starting notification worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notification worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "notification worker shutting down gracefully")
}
