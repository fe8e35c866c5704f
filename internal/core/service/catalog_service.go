package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/catalog-core/internal/cache"
	"github.com/rl1809/catalog-core/internal/core/domain"
	"github.com/rl1809/catalog-core/internal/port"
)

// CatalogService serves product reads through the cache and owns every
// product mutation. Mutations hit the store first; the affected cache keys
// are invalidated only after the store has committed.
type CatalogService struct {
	store     port.InventoryStore
	cache     *cache.Coordinator
	logger    *log.Entry
	validator *validator.Validate
}

func NewCatalogService(store port.InventoryStore, coordinator *cache.Coordinator, logger *log.Entry) *CatalogService {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &CatalogService{
		store:     store,
		cache:     coordinator,
		logger:    logger,
		validator: newValidator(),
	}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var cached []domain.Product
	if s.cache.Get(ctx, cache.KeyAllProducts, &cached) {
		return cached, nil
	}

	gen := s.cache.Snapshot(cache.KeyAllProducts)
	products, err := s.store.ListActiveProducts(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.PutIfFresh(ctx, cache.KeyAllProducts, gen, products, s.cache.CatalogTTL())
	return products, nil
}

// GetProduct returns an active product. Inactive products are reported as
// not found.
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}

	key := cache.ProductKey(id)
	var cached domain.Product
	if s.cache.Get(ctx, key, &cached) && cached.Active {
		return &cached, nil
	}

	gen := s.cache.Snapshot(key)
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, domain.NotFoundf("product %d", id)
	}
	s.cache.PutIfFresh(ctx, key, gen, p, s.cache.ProductTTL())
	return p, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, input domain.CreateProductInput) (*domain.Product, error) {
	if err := validate(s.validator, input); err != nil {
		return nil, err
	}

	p, err := s.store.CreateProduct(ctx, domain.Product{
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		Category:    input.Category,
		Stock:       input.Stock,
		ImageURL:    input.ImageURL,
		Active:      true,
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.KeyAllProducts, cache.KeyStats)
	s.logger.WithFields(log.Fields{"product_id": p.ID, "name": p.Name}).Info("product created")
	return p, nil
}

// UpdateProduct applies a partial update under a row lock.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, input domain.UpdateProductInput) (*domain.Product, error) {
	if err := validateID("id", id); err != nil {
		return nil, err
	}
	if err := validate(s.validator, input); err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := tx.LockProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, domain.NotFoundf("product %d", id)
	}

	p.Apply(input)
	if err := tx.UpdateProduct(ctx, *p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, cache.ProductKey(id), cache.KeyAllProducts, cache.KeyStats)
	s.logger.WithField("product_id", id).Info("product updated")
	return p, nil
}

// DeleteProduct soft-deletes a product. It returns false without touching
// the cache when the product was already inactive.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	if err := validateID("id", id); err != nil {
		return false, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	changed, err := tx.DeactivateProduct(ctx, id)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	if !changed {
		s.logger.WithField("product_id", id).Debug("product already inactive")
		return false, nil
	}

	s.cache.Invalidate(ctx, cache.ProductKey(id), cache.KeyAllProducts, cache.KeyStats)
	s.logger.WithField("product_id", id).Info("product deactivated")
	return true, nil
}

func (s *CatalogService) GetStats(ctx context.Context) (*domain.Stats, error) {
	var cached domain.Stats
	if s.cache.Get(ctx, cache.KeyStats, &cached) {
		return &cached, nil
	}

	gen := s.cache.Snapshot(cache.KeyStats)
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.PutIfFresh(ctx, cache.KeyStats, gen, stats, s.cache.StatsTTL())
	return stats, nil
}
