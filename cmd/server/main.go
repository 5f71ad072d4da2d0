// ABOUTME: Standalone entry point for the threadkeeper MCP server with stdio transport
// ABOUTME: Configured entirely from the environment (and an optional .env file)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harper/threadkeeper/internal/app"
	"github.com/harper/threadkeeper/internal/config"
	"github.com/harper/threadkeeper/internal/logger"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "threadkeeper-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists; production sets the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.LogMode, logger.Options{
		Redact: cfg.LogRedact,
		Salt:   cfg.LogHashKey,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() { _ = a.Close() }()

	return a.Serve(ctx, version)
}
