package port

import (
	"context"

	"github.com/rl1809/catalog-core/internal/core/domain"
)

// InventoryStore is the authoritative relational store for products and orders.
type InventoryStore interface {
	// ListActiveProducts returns every product with active = true, ordered by id
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)

	// GetProduct returns the product row regardless of its active flag, or domain.ErrNotFound
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// CreateProduct inserts the product and returns it with the store-assigned id
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// GetOrder returns the order with its items, or domain.ErrNotFound
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// ListOrders returns the newest orders first; limit <= 0 means no limit
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)

	// UpdateOrderStatus overwrites the status, or returns domain.ErrNotFound
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error)

	// Stats computes the dashboard aggregate
	Stats(ctx context.Context) (*domain.Stats, error)

	// BeginTx opens a transaction holding one pooled connection until Commit or Rollback
	BeginTx(ctx context.Context) (StoreTx, error)

	Ping(ctx context.Context) error
}

// StoreTx is a unit of work. Rows read through LockProduct stay locked
// against other transactions until the transaction ends.
type StoreTx interface {
	// LockProduct reads the product row with a write lock, or returns domain.ErrNotFound
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)

	// UpdateProduct writes every mutable column of the product
	UpdateProduct(ctx context.Context, product domain.Product) error

	// DeactivateProduct sets active = false; returns false if it was already inactive
	DeactivateProduct(ctx context.Context, id int64) (bool, error)

	// InsertOrder stores the order row and sets order.ID
	InsertOrder(ctx context.Context, order *domain.Order) error

	// InsertOrderItem stores the item row and sets item.ID
	InsertOrderItem(ctx context.Context, item *domain.OrderItem) error

	// DecrementStock subtracts quantity only if stock covers it, else domain.ErrInsufficientStock
	DecrementStock(ctx context.Context, productID int64, quantity int) error

	Commit() error
	Rollback() error
}
