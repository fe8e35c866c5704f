package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/adapter/storage"
	"github.com/rl1809/catalog-core/internal/cache"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key this service writes.
	Prefix string
}

type Config struct {
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	Store storage.Config

	CacheBackend string
	Redis        RedisConfig
	Cache        cache.Config
	// CacheSweepInterval drives the janitor of the in-memory backend.
	CacheSweepInterval time.Duration
}

func DefaultConfig() Config {
	store := storage.DefaultConfig()
	store.DSN = "root:root@tcp(localhost:3306)/catalog"

	return Config{
		GRPCAddr:     ":50051",
		MetricsAddr:  ":9090",
		LogLevel:     "info",
		Store:        store,
		CacheBackend: CacheBackendRedis,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "catalog:",
		},
		Cache:              cache.DefaultConfig(),
		CacheSweepInterval: time.Minute,
	}
}

// Load reads an optional .env file and then overrides the defaults with
// whatever is set in the environment.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.WithError(err).Warn("failed to load .env file")
		} else {
			log.Debug(".env file loaded")
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	p := &parser{}

	cfg.GRPCAddr = getEnv("GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("STORE_DSN", cfg.Store.DSN)
	cfg.Store.MaxOpenConns = p.int("STORE_MAX_OPEN_CONNS", cfg.Store.MaxOpenConns)
	cfg.Store.MaxIdleConns = p.int("STORE_MAX_IDLE_CONNS", cfg.Store.MaxIdleConns)
	cfg.Store.ConnMaxIdleTime = p.duration("STORE_CONN_MAX_IDLE_TIME", cfg.Store.ConnMaxIdleTime)
	cfg.Store.ConnMaxLifetime = p.duration("STORE_CONN_MAX_LIFETIME", cfg.Store.ConnMaxLifetime)
	cfg.Store.AcquireTimeout = p.duration("STORE_ACQUIRE_TIMEOUT", cfg.Store.AcquireTimeout)
	cfg.Store.QueryTimeout = p.duration("STORE_QUERY_TIMEOUT", cfg.Store.QueryTimeout)

	cfg.CacheBackend = getEnv("CACHE_BACKEND", cfg.CacheBackend)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = p.int("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Prefix = getEnv("CACHE_PREFIX", cfg.Redis.Prefix)

	cfg.Cache.OpTimeout = p.duration("CACHE_OP_TIMEOUT", cfg.Cache.OpTimeout)
	cfg.Cache.CatalogTTL = p.duration("CACHE_CATALOG_TTL", cfg.Cache.CatalogTTL)
	cfg.Cache.ProductTTL = p.duration("CACHE_PRODUCT_TTL", cfg.Cache.ProductTTL)
	cfg.Cache.StatsTTL = p.duration("CACHE_STATS_TTL", cfg.Cache.StatsTTL)
	cfg.Cache.Backoff.InitialDelay = p.duration("CACHE_BACKOFF_INITIAL", cfg.Cache.Backoff.InitialDelay)
	cfg.Cache.Backoff.MaxDelay = p.duration("CACHE_BACKOFF_MAX", cfg.Cache.Backoff.MaxDelay)
	cfg.CacheSweepInterval = p.duration("CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendRedis, CacheBackendMemory:
	default:
		return fmt.Errorf("config: unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	switch c.Store.Driver {
	case storage.DriverMySQL, storage.DriverPostgres, "postgres":
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("config: STORE_DSN is required")
	}
	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("config: STORE_MAX_OPEN_CONNS must be positive")
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"STORE_ACQUIRE_TIMEOUT", c.Store.AcquireTimeout},
		{"STORE_QUERY_TIMEOUT", c.Store.QueryTimeout},
		{"CACHE_OP_TIMEOUT", c.Cache.OpTimeout},
		{"CACHE_CATALOG_TTL", c.Cache.CatalogTTL},
		{"CACHE_PRODUCT_TTL", c.Cache.ProductTTL},
		{"CACHE_STATS_TTL", c.Cache.StatsTTL},
		{"CACHE_SWEEP_INTERVAL", c.CacheSweepInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("config: %s must be positive", d.key)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// parser keeps the first conversion error so FromEnv can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || p.err != nil {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || p.err != nil {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
		return fallback
	}
	return v
}
