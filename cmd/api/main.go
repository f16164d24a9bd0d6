package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/webhook-relay/api"
	"github.com/angelmondragon/webhook-relay/api/controllers"
	"github.com/angelmondragon/webhook-relay/api/routes"
	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/env"
	"github.com/angelmondragon/webhook-relay/pkg/instance"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/migrate"
	"github.com/angelmondragon/webhook-relay/pkg/redis"
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
	cfg.Service.Kind = "api"

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

	store := mailbox.NewStore(dbClient.DB(), mailbox.Backoff{
		Interval: cfg.Delivery.BackoffInterval,
		Rate:     cfg.Delivery.BackoffRate,
		Max:      cfg.Delivery.MaxBackoff,
	})
	deadLetters := mailbox.NewDeadLetterService(store, mailbox.NewDeadLetterRepository(dbClient.DB()))

	addr := ":" + env.First("PORT", cfg.App.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	if !cfg.Admin.Enabled() {
		logg.Warn(ctx, "admin secret not set; dead letter endpoints disabled")
	}
	logg.Info(ctx, "starting api server")

	router := routes.NewRouter(routes.RouterParams{
		Config: cfg,
		Logger: logg,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		DeadLetters: deadLetters,
		Gatherer:    prometheus.DefaultGatherer,
	})
	if err := api.Serve(ctx, logg, addr, router); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
