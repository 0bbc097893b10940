package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/pennyroute/pennyroute/internal/app"
)

var version = "dev"

func main() {
	log.Printf("pennyworker version %s", version)
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunWorker(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker error: %v", err)
	}
	log.Printf("worker stopped")
}
