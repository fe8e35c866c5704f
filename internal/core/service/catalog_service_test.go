package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/catalog-core/internal/cache"
	"github.com/rl1809/catalog-core/internal/core/domain"
)

func TestCreateProduct_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		input domain.CreateProductInput
		field string
	}{
		{"missing name", domain.CreateProductInput{Category: "Dairy", Price: decimal.NewFromInt(1)}, "Name"},
		{"missing category", domain.CreateProductInput{Name: "Milk", Price: decimal.NewFromInt(1)}, "Category"},
		{"negative price", domain.CreateProductInput{Name: "Milk", Category: "Dairy", Price: decimal.NewFromInt(-1)}, "Price"},
		{"negative stock", domain.CreateProductInput{Name: "Milk", Category: "Dairy", Stock: -3}, "Stock"},
		{"price above column limit", domain.CreateProductInput{Name: "Milk", Category: "Dairy", Price: decimal.RequireFromString("99999999999999.999")}, "Price"},
		{"price with three decimals", domain.CreateProductInput{Name: "Milk", Category: "Dairy", Price: decimal.RequireFromString("1.999")}, "Price"},
		{"stock above column limit", domain.CreateProductInput{Name: "Milk", Category: "Dairy", Stock: domain.MaxQuantity + 1}, "Stock"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.catalog.CreateProduct(ctx, tc.input)
			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}

	products, err := env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCreateProduct_LimitsAccepted(t *testing.T) {
	env := newTestEnv(t)

	p := env.seed(t, "Yacht", domain.MaxQuantity, "9999999999.99")
	assert.True(t, domain.MaxAmount.Equal(p.Price))
	assert.Equal(t, domain.MaxQuantity, p.Stock)

	// Trailing zeros do not add precision.
	p = env.seed(t, "Bread", 1, "2.500")
	assert.True(t, decimal.RequireFromString("2.50").Equal(p.Price))
}

func TestCreateProduct_FreePriceAllowed(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "Sample", 1, "0")
	assert.True(t, p.Active)
	assert.True(t, p.Price.IsZero())
}

func TestCreateProduct_ShowsUpInCachedCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "Milk", 1, "1.00")

	products, err := env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	env.seed(t, "Bread", 1, "2.00")
	products, err = env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestGetProduct_ServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "Milk", 4, "1.00")

	first, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)

	// Write behind the service's back: the cached copy keeps being served.
	tx, err := env.store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DecrementStock(ctx, p.ID, 1))
	require.NoError(t, tx.Commit())

	second, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Stock, second.Stock)

	env.cache.Invalidate(ctx, cache.ProductKey(p.ID))
	third, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Stock)
}

func TestGetProduct_NotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.catalog.GetProduct(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.catalog.GetProduct(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateProduct_NeverServesStaleData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "Milk", 4, "1.00")

	_, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	_, err = env.catalog.ListProducts(ctx)
	require.NoError(t, err)

	name := "Oat milk"
	price := decimal.RequireFromString("2.49")
	updated, err := env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Name: &name, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "Oat milk", updated.Name)
	assert.Equal(t, "Grocery", updated.Category, "unset fields keep their value")
	assert.Equal(t, 4, updated.Stock)

	got, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oat milk", got.Name)
	assert.True(t, price.Equal(got.Price))

	products, err := env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Oat milk", products[0].Name)
}

func TestUpdateProduct_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "Milk", 4, "1.00")

	name := "x"
	_, err := env.catalog.UpdateProduct(ctx, 9999, domain.UpdateProductInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	negative := -1
	_, err = env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Stock: &negative})
	assert.ErrorIs(t, err, domain.ErrValidation)

	empty := ""
	_, err = env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Name: &empty})
	assert.ErrorIs(t, err, domain.ErrValidation)

	tooMuch := domain.MaxQuantity + 1
	_, err = env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Stock: &tooMuch})
	assert.ErrorIs(t, err, domain.ErrValidation)

	for _, raw := range []string{"10000000000.00", "0.001"} {
		price := decimal.RequireFromString(raw)
		_, err = env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Price: &price})
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr), "price %s: got %v", raw, err)
		assert.Equal(t, "Price", vErr.Field)
	}
	assert.False(t, domain.IsRetriable(err))

	got, err := env.catalog.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.00").Equal(got.Price))
	assert.Equal(t, 4, got.Stock)

	deleted, err := env.catalog.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	_, err = env.catalog.UpdateProduct(ctx, p.ID, domain.UpdateProductInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteProduct_NeverServesStaleData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	milk := env.seed(t, "Milk", 4, "1.00")
	bread := env.seed(t, "Bread", 4, "2.00")

	_, err := env.catalog.GetProduct(ctx, milk.ID)
	require.NoError(t, err)
	products, err := env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)

	deleted, err := env.catalog.DeleteProduct(ctx, milk.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = env.catalog.GetProduct(ctx, milk.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	products, err = env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, bread.ID, products[0].ID)

	// The row is kept.
	row, err := env.store.GetProduct(ctx, milk.ID)
	require.NoError(t, err)
	assert.False(t, row.Active)
}

func TestDeleteProduct_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "Milk", 4, "1.00")

	deleted, err := env.catalog.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	// Warm the catalog so a second invalidation would be visible.
	_, err = env.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, env.backend.Len())

	deleted, err = env.catalog.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, env.backend.Len(), "no-op delete leaves the cache alone")

	_, err = env.catalog.DeleteProduct(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.seed(t, "A", 10, "10.00")
	env.seed(t, "B", 10, "1.00")

	first, err := env.orders.CreateOrder(ctx, orderFor(domain.OrderItemInput{ProductID: a.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = env.orders.CreateOrder(ctx, orderFor(domain.OrderItemInput{ProductID: a.ID, Quantity: 2}))
	require.NoError(t, err)
	_, err = env.orders.UpdateOrderStatus(ctx, first.ID, domain.UpdateOrderStatusInput{Status: domain.OrderStatusCancelled})
	require.NoError(t, err)

	stats, err := env.catalog.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 2, stats.TotalProducts)
	assert.Equal(t, 1, stats.PendingOrders)
	assert.True(t, decimal.RequireFromString("20.00").Equal(stats.TotalRevenue), "revenue %s", stats.TotalRevenue)
}
