package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pennyroute/pennyroute/internal/catalog"
	"github.com/pennyroute/pennyroute/internal/events"
	"github.com/pennyroute/pennyroute/internal/logging"
	"github.com/pennyroute/pennyroute/internal/metrics"
	"github.com/pennyroute/pennyroute/internal/pipeline"
	"github.com/pennyroute/pennyroute/internal/providers"
	"github.com/pennyroute/pennyroute/internal/queue"
	"github.com/pennyroute/pennyroute/internal/routing"
	"github.com/pennyroute/pennyroute/internal/store"
	"github.com/pennyroute/pennyroute/internal/tokens"
	"github.com/pennyroute/pennyroute/internal/worker"
)

// RunWorker wires a standalone queue consumer and blocks until ctx is
// cancelled. It shares the server's adapter, catalog and pipeline setup but
// serves no HTTP.
func RunWorker(ctx context.Context, cfg Config) error {
	logger := logging.Setup(cfg.LogLevel)

	if cfg.QueueBackend == "" {
		return fmt.Errorf("PENNYROUTE_QUEUE_BACKEND must be set for the worker")
	}

	var db store.Store
	var err error
	switch cfg.StoreBackend {
	case "postgres":
		db, err = store.NewPostgres(cfg.StoreDSN)
	default:
		db, err = store.NewSQLite(cfg.StoreDSN)
	}
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	source, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}
	router := routing.NewPolicy(source, tokens.NewEstimator())

	httpClient := providers.NewHTTPClient(
		time.Duration(cfg.ProviderConnectTimeoutSecs)*time.Second,
		time.Duration(cfg.ProviderResponseTimeoutSecs)*time.Second,
	)
	adapters := registerProviders(cfg, nil, httpClient, logger)
	registry := registerIntegrations(cfg, httpClient, logger)

	pipe := pipeline.New(db, router, source, adapters, registry,
		pipeline.WithBus(events.NewBus()), pipeline.WithMetrics(metrics.New()))

	var transport queue.Transport
	switch cfg.QueueBackend {
	case "memory":
		transport = queue.NewMemory(256)
	case "redis":
		host, _ := os.Hostname()
		rq, err := queue.NewRedis(ctx, cfg.RedisURL, cfg.QueueName,
			fmt.Sprintf("%s-%d", host, os.Getpid()))
		if err != nil {
			return err
		}
		if n, err := rq.Reclaim(ctx); err != nil {
			logger.Warn("queue reclaim failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("reclaimed pending deliveries", slog.Int("count", n))
		}
		transport = rq
	}
	defer transport.Close()

	logger.Info("worker consuming",
		slog.String("backend", cfg.QueueBackend), slog.Int("concurrency", cfg.WorkerConcurrency))
	return worker.New(transport, db, pipe, cfg.WorkerConcurrency).Run(ctx)
}
