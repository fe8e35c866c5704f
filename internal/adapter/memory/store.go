package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/port"
)

type state struct {
	products   map[int64]domain.Product
	orders     map[int64]domain.Order
	items      map[int64][]domain.OrderItem
	nextProdID int64
	nextOrdID  int64
	nextItemID int64
}

func (s *state) clone() *state {
	c := &state{
		products:   make(map[int64]domain.Product, len(s.products)),
		orders:     make(map[int64]domain.Order, len(s.orders)),
		items:      make(map[int64][]domain.OrderItem, len(s.items)),
		nextProdID: s.nextProdID,
		nextOrdID:  s.nextOrdID,
		nextItemID: s.nextItemID,
	}
	for id, p := range s.products {
		c.products[id] = p
	}
	for id, o := range s.orders {
		c.orders[id] = o
	}
	for id, items := range s.items {
		c.items[id] = append([]domain.OrderItem(nil), items...)
	}
	return c
}

// Store is an in-memory port.InventoryStore for tests and local runs.
// Writers are serialized through a single-slot semaphore, which gives every
// transaction serializable isolation; a transaction works on a private copy
// that replaces the shared state on Commit.
type Store struct {
	writer chan struct{}

	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		writer: make(chan struct{}, 1),
		state: &state{
			products:   make(map[int64]domain.Product),
			orders:     make(map[int64]domain.Order),
			items:      make(map[int64][]domain.OrderItem),
			nextProdID: 1,
			nextOrdID:  1,
			nextItemID: 1,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// acquire blocks for the writer slot like a pooled connection would.
func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire writer: %w: %v", domain.ErrStoreUnavailable, ctx.Err())
	}
}

func (s *Store) release() {
	<-s.writer
}

func (s *Store) ListActiveProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if p.Active {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.products[id]
	if !ok {
		return nil, domain.NotFoundf("product %d", id)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	product.ID = s.state.nextProdID
	product.CreatedAt = now
	product.UpdatedAt = now
	s.state.nextProdID++
	s.state.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %d", id)
	}
	o.Items = append([]domain.OrderItem(nil), s.state.items[id]...)
	return &o, nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.state.orders))
	for id, o := range s.state.orders {
		o.Items = append([]domain.OrderItem(nil), s.state.items[id]...)
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %d", id)
	}
	o.Status = status
	o.UpdatedAt = s.now()
	s.state.orders[id] = o

	o.Items = append([]domain.OrderItem(nil), s.state.items[id]...)
	return &o, nil
}

func (s *Store) Stats(_ context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.Stats{TotalRevenue: decimal.Zero}
	for _, p := range s.state.products {
		if p.Active {
			stats.TotalProducts++
		}
	}
	for _, o := range s.state.orders {
		stats.TotalOrders++
		if o.Status == domain.OrderStatusPending {
			stats.PendingOrders++
		}
		if o.Status != domain.OrderStatusCancelled {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return stats, nil
}

func (s *Store) BeginTx(ctx context.Context) (port.StoreTx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	return &storeTx{store: s, work: work}, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

type storeTx struct {
	store *Store
	work  *state
	done  bool
}

func (tx *storeTx) LockProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := tx.work.products[id]
	if !ok {
		return nil, domain.NotFoundf("product %d", id)
	}
	return &p, nil
}

func (tx *storeTx) UpdateProduct(_ context.Context, product domain.Product) error {
	current, ok := tx.work.products[product.ID]
	if !ok {
		return domain.NotFoundf("product %d", product.ID)
	}
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = tx.store.now()
	tx.work.products[product.ID] = product
	return nil
}

func (tx *storeTx) DeactivateProduct(_ context.Context, id int64) (bool, error) {
	p, ok := tx.work.products[id]
	if !ok {
		return false, domain.NotFoundf("product %d", id)
	}
	if !p.Active {
		return false, nil
	}
	p.Active = false
	p.UpdatedAt = tx.store.now()
	tx.work.products[id] = p
	return true, nil
}

func (tx *storeTx) InsertOrder(_ context.Context, order *domain.Order) error {
	now := tx.store.now()
	order.ID = tx.work.nextOrdID
	order.CreatedAt = now
	order.UpdatedAt = now
	tx.work.nextOrdID++

	row := *order
	row.Items = nil
	tx.work.orders[order.ID] = row
	return nil
}

func (tx *storeTx) InsertOrderItem(_ context.Context, item *domain.OrderItem) error {
	if _, ok := tx.work.orders[item.OrderID]; !ok {
		return fmt.Errorf("insert order item: order %d does not exist", item.OrderID)
	}
	if _, ok := tx.work.products[item.ProductID]; !ok {
		return fmt.Errorf("insert order item: product %d does not exist", item.ProductID)
	}
	item.ID = tx.work.nextItemID
	tx.work.nextItemID++
	tx.work.items[item.OrderID] = append(tx.work.items[item.OrderID], *item)
	return nil
}

func (tx *storeTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := tx.work.products[productID]
	if !ok {
		return domain.NotFoundf("product %d", productID)
	}
	if p.Stock < quantity {
		return &domain.InsufficientStockError{ProductID: productID, Requested: quantity, Available: p.Stock}
	}
	p.Stock -= quantity
	p.UpdatedAt = tx.store.now()
	tx.work.products[productID] = p
	return nil
}

func (tx *storeTx) Commit() error {
	if tx.done {
		return fmt.Errorf("commit: transaction already finished")
	}
	tx.done = true

	tx.store.mu.Lock()
	tx.store.state = tx.work
	tx.store.mu.Unlock()

	tx.store.release()
	return nil
}

func (tx *storeTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.release()
	return nil
}

var (
	_ port.InventoryStore = (*Store)(nil)
	_ port.StoreTx        = (*storeTx)(nil)
)
