package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/catalog-core/internal/core/domain"
)

func getSQLStore(t *testing.T) *SQLStore {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/catalog"
	}

	config := DefaultConfig()
	config.DSN = dsn
	config.AcquireTimeout = 500 * time.Millisecond

	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	store, err := Open(context.Background(), config, log.NewEntry(logger))
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		store.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	return store
}

func createTestProduct(t *testing.T, store *SQLStore, stock int, price string) *domain.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), domain.Product{
		Name:     "test-" + uuid.NewString(),
		Price:    decimal.RequireFromString(price),
		Category: "test",
		Stock:    stock,
		Active:   true,
	})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	return p
}

func TestSQLStore_CreateAndGetProduct(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	p := createTestProduct(t, store, 5, "10.00")

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, 5, got.Stock)
	assert.True(t, got.Active)
	assert.True(t, decimal.RequireFromString("10.00").Equal(got.Price))
}

func TestSQLStore_GetProduct_NotFound(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()

	_, err := store.GetProduct(context.Background(), 999999999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLStore_OrderTransactionCommit(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	p := createTestProduct(t, store, 5, "10.00")

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	locked, err := tx.LockProduct(ctx, p.ID)
	require.NoError(t, err)

	order := &domain.Order{
		Reference:     uuid.New(),
		CustomerName:  "Test",
		CustomerEmail: "test@example.com",
		TotalAmount:   locked.Price.Mul(decimal.NewFromInt(3)),
		Status:        domain.OrderStatusPending,
	}
	require.NoError(t, tx.InsertOrder(ctx, order))
	item := &domain.OrderItem{OrderID: order.ID, ProductID: p.ID, Quantity: 3, UnitPrice: locked.Price}
	require.NoError(t, tx.InsertOrderItem(ctx, item))
	require.NoError(t, tx.DecrementStock(ctx, p.ID, 3))
	require.NoError(t, tx.Commit())

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Reference, stored.Reference)
	require.Len(t, stored.Items, 1)
	assert.True(t, decimal.RequireFromString("30.00").Equal(stored.TotalAmount))

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestSQLStore_OrderTransactionRollback(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	p := createTestProduct(t, store, 5, "10.00")

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	order := &domain.Order{Reference: uuid.New(), CustomerName: "x", CustomerEmail: "x@example.com", Status: domain.OrderStatusPending}
	require.NoError(t, tx.InsertOrder(ctx, order))
	require.NoError(t, tx.DecrementStock(ctx, p.ID, 5))
	require.NoError(t, tx.Rollback())

	_, err = store.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestSQLStore_DecrementStock_Insufficient(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	p := createTestProduct(t, store, 0, "1.00")

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.DecrementStock(ctx, p.ID, 1)
	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
}

func TestSQLStore_DeactivateProduct(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	p := createTestProduct(t, store, 1, "1.00")

	for _, want := range []bool{true, false} {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		changed, err := tx.DeactivateProduct(ctx, p.ID)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.Equal(t, want, changed)
	}

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.DeactivateProduct(ctx, 999999999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, tx.Rollback())
}

func TestSQLStore_UpdateOrderStatus(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	order := &domain.Order{Reference: uuid.New(), CustomerName: "x", CustomerEmail: "x@example.com", Status: domain.OrderStatusPending}
	require.NoError(t, tx.InsertOrder(ctx, order))
	require.NoError(t, tx.Commit())

	// Same value twice: the row still matches.
	for i := 0; i < 2; i++ {
		updated, err := store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusShipped)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusShipped, updated.Status)
	}

	_, err = store.UpdateOrderStatus(ctx, 999999999, domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Concurrent single-unit decrements through FOR UPDATE never oversell.
func TestSQLStore_ConcurrentLockAndDecrement(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	initialStock := 10
	totalRequests := 25
	p := createTestProduct(t, store, initialStock, "2.50")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := store.BeginTx(ctx)
			if err != nil {
				return
			}
			locked, err := tx.LockProduct(ctx, p.ID)
			if err != nil || locked.Stock < 1 {
				_ = tx.Rollback()
				return
			}
			if err := tx.DecrementStock(ctx, p.ID, 1); err != nil {
				_ = tx.Rollback()
				return
			}
			if err := tx.Commit(); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, initialStock-int(successCount.Load()), got.Stock)
	assert.GreaterOrEqual(t, got.Stock, 0)
}

func TestSQLStore_PoolTimeout(t *testing.T) {
	store := getSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	store.DB().SetMaxOpenConns(1)
	held, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer held.Rollback()

	_, err = store.BeginTx(ctx)
	assert.ErrorIs(t, err, ErrPoolTimeout)
	assert.True(t, domain.IsRetriable(err))
}
