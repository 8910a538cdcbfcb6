package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Delegate  DelegateConfig
	Realtime  RealtimeConfig
	Dashboard DashboardConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RealtimePort   int // 0 serves /ws from the API listener
	MaxUploadMB    int
	IngestTimeout  time.Duration // 0 leaves ingestion unbounded
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver     string
	Name       string
	Collection string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type MongoConfig struct {
	URI string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

const (
	StorageBackendLocal    = "local"
	StorageBackendGCS      = "gcs"
	StorageBackendSupabase = "supabase"
)

type StorageConfig struct {
	Backend     string
	UploadDir   string
	Bucket      string
	SupabaseURL string
	SupabaseKey string
}

type DelegateConfig struct {
	URL     string
	Timeout time.Duration
}

type RealtimeConfig struct {
	EventQueueSize   int
	SubscriberBuffer int
}

type DashboardConfig struct {
	CacheTTL time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	realtimePort, err := getEnvInt("REALTIME_PORT", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REALTIME_PORT: %w", err)
	}

	maxUpload, err := getEnvInt("MAX_UPLOAD_MB", 32)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	ingestTimeout, err := getEnvDuration("INGEST_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_TIMEOUT: %w", err)
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	delegateTimeout, err := getEnvDuration("DELEGATE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid DELEGATE_TIMEOUT: %w", err)
	}

	queueSize, err := getEnvInt("EVENT_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_QUEUE_SIZE: %w", err)
	}

	subBuffer, err := getEnvInt("SUBSCRIBER_BUFFER", 16)
	if err != nil {
		return nil, fmt.Errorf("invalid SUBSCRIBER_BUFFER: %w", err)
	}

	cacheTTL, err := getEnvDuration("DASHBOARD_CACHE_TTL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DASHBOARD_CACHE_TTL: %w", err)
	}

	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	dbURL := getEnv("DATABASE_URL", "")
	driver := getEnv("STORE_DRIVER", "")
	if driver == "" {
		driver = StoreDriverMemory
		if dbURL != "" {
			driver = StoreDriverPostgres
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			RealtimePort:   realtimePort,
			MaxUploadMB:    maxUpload,
			IngestTimeout:  ingestTimeout,
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
			CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(driver),
			Name:       getEnv("DB_NAME", "document_ai"),
			Collection: getEnv("DB_COLLECTION", "processed_documents"),
		},
		Database: DatabaseConfig{
			URL:      dbURL,
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Mongo: MongoConfig{
			URI: getEnv("MONGO_URI", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendLocal)),
			UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		},
		Delegate: DelegateConfig{
			URL:     strings.TrimRight(getEnv("DELEGATE_URL", "http://localhost:8000"), "/"),
			Timeout: delegateTimeout,
		},
		Realtime: RealtimeConfig{
			EventQueueSize:   queueSize,
			SubscriberBuffer: subBuffer,
		},
		Dashboard: DashboardConfig{
			CacheTTL: cacheTTL,
		},
		Worker: WorkerConfig{
			Concurrency: concurrency,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RealtimeAddr returns the dedicated websocket listener address, or "" when
// websockets share the API listener.
func (c *Config) RealtimeAddr() string {
	if c.Server.RealtimePort == 0 || c.Server.RealtimePort == c.Server.Port {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.RealtimePort)
}

func (c *Config) Validate() error {
	var missing []string

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMongo:
		if c.Mongo.URI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
		if c.Storage.UploadDir == "" {
			missing = append(missing, "UPLOAD_DIR")
		}
	case StorageBackendGCS:
		if c.Storage.Bucket == "" {
			missing = append(missing, "STORAGE_BUCKET")
		}
	case StorageBackendSupabase:
		if c.Storage.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Storage.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	if c.Delegate.URL == "" {
		missing = append(missing, "DELEGATE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Realtime.EventQueueSize <= 0 || c.Realtime.SubscriberBuffer <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE and SUBSCRIBER_BUFFER must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
