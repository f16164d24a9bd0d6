package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/webhook-relay/api/controllers"
	"github.com/angelmondragon/webhook-relay/api/routes"
	"github.com/angelmondragon/webhook-relay/internal/consumers/drain"
	"github.com/angelmondragon/webhook-relay/internal/relay"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/idempotency"
	"github.com/angelmondragon/webhook-relay/pkg/instance"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
	"github.com/angelmondragon/webhook-relay/pkg/migrate"
	"github.com/angelmondragon/webhook-relay/pkg/pubsub"
	"github.com/angelmondragon/webhook-relay/pkg/redis"
)

const serviceName = "delivery-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	engine, err := relay.NewEngine(relay.EngineParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient.DB(),
		Metrics: metrics.NewDeliveryMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build delivery engine", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.PubSub.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
	drainConsumer, err := drain.NewConsumer(pubsubClient.DrainSubscription(), engine.Runner, manager, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create drain consumer", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   pubsubClient,
		},
		Gatherer: prometheus.DefaultGatherer,
	})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Consumer: drainConsumer,
		Dependencies: map[string]pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   pubsubClient,
		},
		HTTPAddr:    cfg.Metrics.Address,
		HTTPHandler: router,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"instance":     instance.GetID(),
		"subscription": cfg.PubSub.DrainSubscription,
	})
	logg.Info(ctx, "starting delivery worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
	logg.Info(ctx, "delivery worker shutting down gracefully")
}
