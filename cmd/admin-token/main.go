package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/webhook-relay/pkg/auth"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

// admin-token prints an operator bearer token for the dead letter endpoints.
func main() {
	logg := logger.New(logger.Options{ServiceName: "admin-token"})
	_ = godotenv.Load()

	operator := flag.String("operator", os.Getenv("USER"), "operator name recorded with replays")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to RELAY_ADMIN_TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.Admin.TokenTTL = *ttl
	}

	token, err := auth.MintAdminToken(cfg.Admin, time.Now(), *operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
