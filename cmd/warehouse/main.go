// warehouse runs one-shot maintenance commands against the configured store.
//
// Usage: go run ./cmd/warehouse <command> [args]
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"warehouse-ledger/internal/adapters/cli"
	webAdapter "warehouse-ledger/internal/adapters/web"
	"warehouse-ledger/internal/bootstrap"
	"warehouse-ledger/internal/config"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: warehouse <command> [args]\n%s, migrate, token <actor> [role]\n", cli.Usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()
	args := os.Args[1:]

	// token needs no store.
	if args[0] == "token" {
		if len(args) < 2 || cfg.JWTSecret == "" {
			logger.Fatal("usage: warehouse token <actor> [role] (requires JWT_SECRET)")
		}
		role := ""
		if len(args) > 2 {
			role = args[2]
		}
		tok, err := webAdapter.IssueToken(cfg.JWTSecret, args[1], role, 24*time.Hour)
		if err != nil {
			logger.Fatalf("token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	ctx := context.Background()
	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer rt.Close()

	if args[0] == "migrate" {
		if err := rt.Migrate(ctx); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		logger.Info("schema applied")
		return
	}

	if err := cli.Run(ctx, rt.Service, args, os.Stdout); err != nil {
		rt.Close()
		logger.Fatal(err)
	}
}
