package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/cache"
	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/metrics"
	"github.com/rl1809/catalog-core/internal/port"
)

const defaultListLimit = 50

type OrderService struct {
	store     port.InventoryStore
	cache     *cache.Coordinator
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	validator *validator.Validate
}

func NewOrderService(store port.InventoryStore, coordinator *cache.Coordinator, logger *log.Entry, m *metrics.OrderMetrics) *OrderService {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	if m == nil {
		m = metrics.NewOrderMetrics(prometheus.NewRegistry())
	}
	return &OrderService{
		store:     store,
		cache:     coordinator,
		logger:    logger,
		metrics:   m,
		validator: newValidator(),
	}
}

// CreateOrder places an order in a single store transaction. Every product
// row is locked before its stock is checked, prices come from the locked
// rows, and the catalog cache is invalidated only after commit.
func (s *OrderService) CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error) {
	if err := validate(s.validator, input); err != nil {
		s.metrics.OrderFailed(failureReason(err))
		return nil, err
	}

	start := time.Now()
	order, err := s.placeOrder(ctx, input)
	s.metrics.ObserveTx(time.Since(start))
	if err != nil {
		s.metrics.OrderFailed(failureReason(err))
		s.logger.WithError(err).WithField("customer_email", input.CustomerEmail).Warn("order failed")
		return nil, err
	}
	s.metrics.OrderCreated()

	keys := []string{cache.KeyAllProducts, cache.KeyStats}
	for _, id := range productIDs(input.Items) {
		keys = append(keys, cache.ProductKey(id))
	}
	s.cache.Invalidate(ctx, keys...)

	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"reference": order.Reference,
		"total":     order.TotalAmount.StringFixed(2),
		"items":     len(order.Items),
	}).Info("order created")
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error) {
	requested := make(map[int64]int, len(input.Items))
	for _, item := range input.Items {
		requested[item.ProductID] += item.Quantity
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Ascending id order keeps two orders over the same products from
	// deadlocking on each other's row locks.
	locked := make(map[int64]*domain.Product, len(requested))
	for _, id := range productIDs(input.Items) {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, domain.NotFoundf("product %d", id)
		}
		if p.Stock < requested[id] {
			return nil, &domain.InsufficientStockError{ProductID: id, Requested: requested[id], Available: p.Stock}
		}
		locked[id] = p
	}

	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(locked[item.ProductID].Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if total.GreaterThan(domain.MaxAmount) {
		return nil, &domain.ValidationError{
			Field:  "Items",
			Reason: fmt.Sprintf("order total %s exceeds %s", total.StringFixed(2), domain.MaxAmount.StringFixed(2)),
		}
	}

	order := &domain.Order{
		Reference:     uuid.New(),
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		TotalAmount:   total,
		Status:        domain.OrderStatusPending,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, err
	}

	for _, in := range input.Items {
		item := &domain.OrderItem{
			OrderID:   order.ID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: locked[in.ProductID].Price,
		}
		if err := tx.InsertOrderItem(ctx, item); err != nil {
			return nil, err
		}
		if err := tx.DecrementStock(ctx, in.ProductID, in.Quantity); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, *item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrderStatus overwrites the status unconditionally. Any status may
// follow any other.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id int64, input domain.UpdateOrderStatusInput) (*domain.Order, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	if err := validate(s.validator, input); err != nil {
		return nil, err
	}

	order, err := s.store.UpdateOrderStatus(ctx, id, input.Status)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"order_id": id, "status": input.Status}).Info("order status updated")
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns the newest orders first. A non-positive limit uses the
// default page size.
func (s *OrderService) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListOrders(ctx, limit)
}

// productIDs returns the distinct product ids of items in ascending order.
func productIDs(items []domain.OrderItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
