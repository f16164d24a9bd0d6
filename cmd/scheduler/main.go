package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/webhook-relay/api"
	"github.com/angelmondragon/webhook-relay/api/controllers"
	"github.com/angelmondragon/webhook-relay/api/routes"
	"github.com/angelmondragon/webhook-relay/internal/cron"
	"github.com/angelmondragon/webhook-relay/internal/delivery"
	"github.com/angelmondragon/webhook-relay/internal/relay"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/instance"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
	"github.com/angelmondragon/webhook-relay/pkg/migrate"
	"github.com/angelmondragon/webhook-relay/pkg/pubsub"
	"github.com/angelmondragon/webhook-relay/pkg/redis"
)

const (
	serviceName = "scheduler"
	lockScope   = "schedule-webhook-delivery"
	lockTTL     = 30 * time.Second
)

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

	deliveryMetrics := metrics.NewDeliveryMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	engine, err := relay.NewEngine(relay.EngineParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient.DB(),
		Metrics: deliveryMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build delivery engine", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	var (
		dispatcher delivery.Dispatcher
		inline     *delivery.InlineDispatcher
	)
	switch cfg.Delivery.DispatchMode {
	case config.DispatchModeInline:
		inline, err = delivery.NewInlineDispatcher(logg, engine.Runner, cfg.Delivery.InlineWorkers)
		if err != nil {
			logg.Error(context.Background(), "failed to create inline dispatcher", err)
			os.Exit(1)
		}
		dispatcher = inline
	default:
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
		publisher := pubsubClient.DrainPublisher()
		if publisher == nil {
			logg.Error(context.Background(), "drain topic not configured", errors.New("missing drain publisher"))
			os.Exit(1)
		}
		defer publisher.Stop()
		dispatcher, err = delivery.NewPubSubDispatcher(logg, publisher)
		if err != nil {
			logg.Error(context.Background(), "failed to create pubsub dispatcher", err)
			os.Exit(1)
		}
		readiness["pubsub"] = pubsubClient
	}

	scheduler, err := engine.NewScheduler(logg, deliveryMetrics, dispatcher)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}
	job, err := cron.NewScheduleDeliveryJob(logg, scheduler)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduling job", err)
		os.Exit(1)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockScope, cfg.App.Env), instance.GetID(), lockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Name:     lockScope,
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Delivery.ScheduleInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"serviceKind":   cfg.Service.Kind,
		"dispatch_mode": cfg.Delivery.DispatchMode,
		"instance":      instance.GetID(),
	})
	logg.Info(ctx, "starting scheduler")

	router := routes.NewRouter(routes.RouterParams{
		Config:    cfg,
		Logger:    logg,
		Readiness: readiness,
		Gatherer:  prometheus.DefaultGatherer,
	})
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return api.Serve(groupCtx, logg, cfg.Metrics.Address, router) })

	err = group.Wait()
	if inline != nil {
		// let inline drains settle their current batch before connections close
		inline.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "scheduler stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "scheduler shutting down gracefully")
}
