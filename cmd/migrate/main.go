package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/db"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory (default: migrations embedded in the binary)")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// file commands work on a checkout and need neither config nor a database
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOn(migrate.Validate(migrate.Source(*dir)), "validate migrations")
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	if dbClient.Dialect() != "postgres" {
		logg.Error(ctx, "sql migrations target postgres; sqlite uses RELAY_AUTO_MIGRATE", fmt.Errorf("unsupported dialect %s", dbClient.Dialect()))
		os.Exit(1)
	}
	sqlDB, err := dbClient.DB().DB()
	exitOn(err, "sql handle")
	migrator, err := migrate.NewMigrator(sqlDB, migrate.Source(*dir))
	exitOn(err, "migrator")

	var applied []migrate.Applied
	switch *cmd {
	case "up":
		applied, err = migrator.Up(ctx)
	case "down":
		applied, err = migrator.Down(ctx)
	case "version":
		target, parseErr := strconv.ParseInt(*version, 10, 64)
		if parseErr != nil {
			exitOn(fmt.Errorf("invalid -version %q: %w", *version, parseErr), "version")
		}
		applied, err = migrator.To(ctx, target)
	case "status":
		current, verr := migrator.Version(ctx)
		exitOn(verr, "db version")
		pending, perr := migrator.Pending(ctx)
		exitOn(perr, "status")
		fmt.Printf("version %d, %d pending %v\n", current, len(pending), pending)
		return
	default:
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "migrate")
	}

	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"direction":   a.Direction,
			"duration_ms": a.Duration.Milliseconds(),
		}), "migration applied")
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrations complete")
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
