package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/catalog-core/internal/adapter/memory"
	"github.com/rl1809/catalog-core/internal/adapter/storage"
	"github.com/rl1809/catalog-core/internal/cache"
	"github.com/rl1809/catalog-core/internal/config"
	"github.com/rl1809/catalog-core/internal/core/service"
	"github.com/rl1809/catalog-core/internal/health"
	"github.com/rl1809/catalog-core/internal/metrics"
	"github.com/rl1809/catalog-core/internal/port"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	setupLogger(cfg.LogLevel)
	logger := log.WithField("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store, log.WithField("component", "store"))
	if err != nil {
		logger.WithError(err).Fatal("failed to open inventory store")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("failed to create schema")
	}
	logger.WithField("driver", cfg.Store.Driver).Info("connected to inventory store")

	backend, closeBackend := newCacheBackend(ctx, cfg, logger)
	defer closeBackend()

	coordinator := cache.NewCoordinator(backend, cfg.Cache, log.WithField("component", "cache"),
		metrics.NewCacheMetrics(prometheus.DefaultRegisterer))
	catalog, orders := newServices(store, coordinator, prometheus.DefaultRegisterer)
	warmCache(ctx, catalog, orders, logger)

	healthHandler := health.NewHandler(version)
	healthHandler.RegisterChecker("store", health.NewSimpleChecker("store", store.Ping))
	healthHandler.RegisterChecker("cache", health.NewDegradableChecker("cache", coordinator.Ping))

	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthHandler)

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.WithError(err).Fatal("failed to listen")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.WithError(err).Error("gRPC server failed")
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	shutdownHTTP(metricsSrv, logger)
	logger.Info("server stopped")
}

// newCacheBackend picks the configured backend. An unreachable Redis is not
// fatal: the coordinator starts degraded and keeps probing.
func newCacheBackend(ctx context.Context, cfg config.Config, logger *log.Entry) (port.CacheBackend, func()) {
	if cfg.CacheBackend == config.CacheBackendMemory {
		mem := memory.NewCache()
		janitorCtx, cancel := context.WithCancel(ctx)
		go mem.RunJanitor(janitorCtx, cfg.CacheSweepInterval)
		logger.Info("using in-memory cache")
		return mem, cancel
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Cache.OpTimeout * 5,
		ReadTimeout:  cfg.Cache.OpTimeout,
		WriteTimeout: cfg.Cache.OpTimeout,
		PoolSize:     100,
	})
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unreachable, cache starts degraded")
	} else {
		logger.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	}

	return storage.NewRedisAdapter(rdb, cfg.Redis.Prefix), func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
}

func newServices(store port.InventoryStore, coordinator *cache.Coordinator, registerer prometheus.Registerer) (*service.CatalogService, *service.OrderService) {
	catalog := service.NewCatalogService(store, coordinator, log.WithField("component", "catalog"))
	orders := service.NewOrderService(store, coordinator, log.WithField("component", "orders"),
		metrics.NewOrderMetrics(registerer))
	return catalog, orders
}

// warmCache fills the catalog and stats keys so the first requests after a
// deploy do not all miss at once.
func warmCache(ctx context.Context, catalog *service.CatalogService, orders *service.OrderService, logger *log.Entry) {
	products, err := catalog.ListProducts(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to warm catalog cache")
		return
	}
	stats, err := catalog.GetStats(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to warm stats cache")
		return
	}
	fields := log.Fields{
		"products":       len(products),
		"orders":         stats.TotalOrders,
		"pending_orders": stats.PendingOrders,
	}
	if latest, err := orders.ListOrders(ctx, 1); err != nil {
		logger.WithError(err).Warn("failed to read latest order")
	} else if len(latest) > 0 {
		fields["latest_order"] = latest[0].Reference.String()
		fields["latest_order_at"] = latest[0].CreatedAt
	}
	logger.WithFields(fields).Info("cache warmed")
}

func startMetricsServer(addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.WithField("addr", addr).Info("metrics and health checks listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
