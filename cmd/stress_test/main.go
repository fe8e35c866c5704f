package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/adapter/memory"
	"github.com/rl1809/catalog-core/internal/adapter/storage"
	"github.com/rl1809/catalog-core/internal/cache"
	"github.com/rl1809/catalog-core/internal/config"
	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/core/service"
	"github.com/rl1809/catalog-core/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, err := storage.Open(ctx, cfg.Store, log.WithField("component", "store"))
	if err != nil {
		log.WithError(err).Fatal("failed to open inventory store")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.WithError(err).Fatal("failed to create schema")
	}

	var backend port.CacheBackend = memory.NewCache()
	if cfg.CacheBackend == config.CacheBackendRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		backend = storage.NewRedisAdapter(rdb, cfg.Redis.Prefix)
	}

	coordinator := cache.NewCoordinator(backend, cfg.Cache, log.WithField("component", "cache"), nil)
	catalog := service.NewCatalogService(store, coordinator, log.WithField("component", "catalog"))
	orders := service.NewOrderService(store, coordinator, log.WithField("component", "orders"), nil)

	product, err := catalog.CreateProduct(ctx, domain.CreateProductInput{
		Name:     fmt.Sprintf("stress-%d", time.Now().UnixNano()),
		Price:    decimal.RequireFromString("9.99"),
		Category: "stress",
		Stock:    initialStock,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to seed product")
	}

	var successCount atomic.Int32
	var stockFailCount atomic.Int32
	var otherFailCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := orders.CreateOrder(ctx, domain.CreateOrderInput{
				CustomerName:  fmt.Sprintf("user-%d", n),
				CustomerEmail: fmt.Sprintf("user-%d@example.com", n),
				Items:         []domain.OrderItemInput{{ProductID: product.ID, Quantity: 1}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockFailCount.Add(1)
			default:
				otherFailCount.Add(1)
				log.WithError(err).Warn("unexpected order failure")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	stockFail := stockFailCount.Load()
	otherFail := otherFailCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Successful:         %d\n", success)
	fmt.Printf("Insufficient Stock: %d\n", stockFail)
	fmt.Printf("Other Failures:     %d\n", otherFail)
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("==========================================")

	passed := true
	if success == int32(initialStock) && stockFail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		passed = false
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d (%d other)\n",
			initialStock, totalRequests-initialStock, success, stockFail, otherFail)
	}

	// Read through the cache: the last order must have invalidated it.
	final, err := catalog.GetProduct(ctx, product.ID)
	if err != nil {
		log.WithError(err).Fatal("failed to read final stock")
	}
	fmt.Printf("Final Stock:        %d\n", final.Stock)
	if final.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		passed = false
		fmt.Printf("FAIL: Expected stock 0, got %d\n", final.Stock)
	}

	if !passed {
		os.Exit(1)
	}
}
