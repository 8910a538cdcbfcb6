// Package bootstrap opens the backing services selected by configuration.
// It is shared by the API server and the worker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docpulse/internal/config"
	"github.com/nikhilbhutani/docpulse/internal/database"
	"github.com/nikhilbhutani/docpulse/internal/storage"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

// OpenStore connects the configured record store and prepares its schema. The
// returned func releases the connection.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, pool, cfg.Store.Collection); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store.NewPostgres(pool, cfg.Store.Collection), pool.Close, nil

	case config.StoreDriverMongo:
		client, err := database.NewMongoClient(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewMongo(client.Database(cfg.Store.Name), cfg.Store.Collection)
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				slog.Warn("mongo disconnect", "error", err)
			}
		}
		return s, closeFn, nil

	case config.StoreDriverMemory:
		slog.Warn("using in-memory record store, records are lost on restart")
		return store.NewMemory(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenStorage builds the configured upload storage backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, func(), error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		s, err := storage.NewLocal(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case config.StorageBackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storage.NewGCS(client, cfg.Bucket), func() { client.Close() }, nil

	case config.StorageBackendSupabase:
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
