package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docpulse/internal/aggregation"
	"github.com/nikhilbhutani/docpulse/internal/api"
	"github.com/nikhilbhutani/docpulse/internal/bootstrap"
	"github.com/nikhilbhutani/docpulse/internal/broadcast"
	"github.com/nikhilbhutani/docpulse/internal/cache"
	"github.com/nikhilbhutani/docpulse/internal/config"
	"github.com/nikhilbhutani/docpulse/internal/delegate"
	"github.com/nikhilbhutani/docpulse/internal/ingestion"
	"github.com/nikhilbhutani/docpulse/internal/queue"
)

const relayRetryDelay = 5 * time.Second

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Redis is optional for serving uploads; the cache, relay and queue degrade without it.
	rdb := bootstrap.NewRedis(cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, dashboard cache and reprocessing degraded", "error", err)
	}
	defer rdb.Close()

	dashboard := aggregation.NewService(records, cache.NewCache(rdb, aggregation.CachePrefix), cfg.Dashboard.CacheTTL, logger)

	hub := broadcast.New(cfg.Realtime.EventQueueSize, cfg.Realtime.SubscriberBuffer, logger)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	// Invalidate cached aggregates before observers are told to re-query.
	notifiers := broadcast.Notifiers{dashboard, hub}
	go relay(ctx, rdb, notifiers, logger)

	ingest := ingestion.NewService(files,
		delegate.New(cfg.Delegate.URL, cfg.Delegate.Timeout, logger),
		records, notifiers, logger)

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	ws := broadcast.NewHandler(hub, cfg.Server.CORSOrigins, logger)
	deps := api.Deps{
		Config:    cfg,
		Ingestion: ingest,
		Dashboard: dashboard,
		Records:   records,
		Files:     files,
		Redis:     rdb,
		Queue:     queueClient,
		Logger:    logger,
	}

	var realtime *http.Server
	if addr := cfg.RealtimeAddr(); addr != "" {
		realtime = &http.Server{
			Addr:        addr,
			Handler:     api.RealtimeHandler(ws, cfg.Server.CORSOrigins),
			IdleTimeout: 120 * time.Second,
		}
	} else {
		deps.Realtime = ws
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(deps).Setup(ctx),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go serve(srv, "API server")
	if realtime != nil {
		go serve(realtime, "realtime server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	if realtime != nil {
		if err := realtime.Shutdown(shutdownCtx); err != nil {
			slog.Error("realtime server forced shutdown", "error", err)
		}
	}

	// Closing the broadcaster ends every websocket writer.
	cancel()
	<-hubDone
	slog.Info("server stopped")
}

func serve(srv *http.Server, name string) {
	slog.Info("starting "+name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "server", name, "error", err)
		os.Exit(1)
	}
}

// relay feeds notifications published by workers into this process until ctx
// is done, resubscribing after failures.
func relay(ctx context.Context, rdb *redis.Client, sink broadcast.Notifier, logger *slog.Logger) {
	for {
		err := broadcast.Relay(ctx, rdb, broadcast.EventsChannel, sink, logger)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("notification relay stopped, retrying", "error", err, "retry_in", relayRetryDelay.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}
