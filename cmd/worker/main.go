package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docpulse/internal/aggregation"
	"github.com/nikhilbhutani/docpulse/internal/bootstrap"
	"github.com/nikhilbhutani/docpulse/internal/broadcast"
	"github.com/nikhilbhutani/docpulse/internal/cache"
	"github.com/nikhilbhutani/docpulse/internal/config"
	"github.com/nikhilbhutani/docpulse/internal/delegate"
	"github.com/nikhilbhutani/docpulse/internal/ingestion"
	"github.com/nikhilbhutani/docpulse/internal/queue"
	"github.com/nikhilbhutani/docpulse/internal/queue/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Store.Driver == config.StoreDriverMemory {
		slog.Warn("worker is using an in-memory store, its records are not visible to the API")
	}

	ctx := context.Background()

	records, closeStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open record store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	files, closeFiles, err := bootstrap.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open file storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeFiles()

	rdb := bootstrap.NewRedis(cfg.Redis)
	defer rdb.Close()

	// The API process relays the events channel to its websocket observers.
	notifiers := broadcast.Notifiers{
		aggregation.NewService(records, cache.NewCache(rdb, aggregation.CachePrefix), cfg.Dashboard.CacheTTL, logger),
		broadcast.NewRedisPublisher(rdb, broadcast.EventsChannel, logger),
	}

	ingest := ingestion.NewService(files,
		delegate.New(cfg.Delegate.URL, cfg.Delegate.Timeout, logger),
		records, notifiers, logger)

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	reprocessWorker := workers.NewReprocessWorker(ingest, logger)
	registry.Register(queue.TypeDocumentReprocess, reprocessWorker.ProcessTask)

	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
