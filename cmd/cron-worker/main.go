package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/webhook-relay/api"
	"github.com/angelmondragon/webhook-relay/api/controllers"
	"github.com/angelmondragon/webhook-relay/api/routes"
	"github.com/angelmondragon/webhook-relay/internal/cron"
	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/instance"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
	"github.com/angelmondragon/webhook-relay/pkg/migrate"
	"github.com/angelmondragon/webhook-relay/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit (for scheduled Kubernetes jobs)")
	flag.Parse()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"once":        *once,
	})

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store := mailbox.NewStore(dbClient.DB(), mailbox.DefaultBackoff())
	deadLetters := mailbox.NewDeadLetterRepository(dbClient.DB())

	retention, err := cron.NewDeadLetterRetentionJob(cron.DeadLetterRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    deadLetters,
		RetentionDays: cfg.DeadLetter.RetentionDays,
	})
	if err != nil {
		return err
	}
	backlog, err := cron.NewBacklogJob(cron.BacklogJobParams{
		Logger:      logg,
		Mailboxes:   store,
		DeadLetters: deadLetters,
		Metrics:     metrics.NewBacklogMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName, cfg.App.Env), instance.GetID(), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Name:     serviceName,
		Logger:   logg,
		Registry: cron.NewRegistry(retention, backlog),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	if once {
		return service.RunOnce(ctx)
	}
	logg.Info(ctx, "starting cron worker")
	router := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer: prometheus.DefaultGatherer,
	})
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return api.Serve(groupCtx, logg, cfg.Metrics.Address, router) })
	return group.Wait()
}
