// Package memory holds mutex-guarded in-memory implementations of the
// repository interfaces. They back the dev store mode and the concurrency
// tests; the conditional stock update is check-and-set under one lock, the
// same contract the SQL statement gives.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

type ProductRepository struct {
	mu       sync.RWMutex
	products map[uuid.UUID]*product.Product
	skus     map[string]uuid.UUID
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[uuid.UUID]*product.Product),
		skus:     make(map[string]uuid.UUID),
	}
}

func cloneProduct(p *product.Product) *product.Product {
	clone := *p
	return &clone
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skus[p.SKU]; ok {
		return product.ErrSKUExists
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.products[p.ID] = cloneProduct(p)
	r.skus[p.SKU] = p.ID
	return nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[p.ID]
	if !ok {
		return product.ErrProductNotFound
	}
	if other, taken := r.skus[p.SKU]; taken && other != p.ID {
		return product.ErrSKUExists
	}

	delete(r.skus, current.SKU)
	r.skus[p.SKU] = p.ID

	// Stock quantity only moves through ReserveStock/ReleaseStock.
	p.Stock.Quantity = current.Stock.Quantity
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	r.products[p.ID] = cloneProduct(p)
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	delete(r.skus, p.SKU)
	delete(r.products, id)
	return nil
}

func (r *ProductRepository) ListLowStock(ctx context.Context) ([]product.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	low := make([]product.Product, 0)
	for _, p := range r.products {
		if p.Stock.TrackStock && p.Stock.Quantity <= p.Stock.LowStockThreshold {
			low = append(low, *cloneProduct(p))
		}
	}
	return low, nil
}

func (r *ProductRepository) ReserveStock(ctx context.Context, id uuid.UUID, qty int) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	if !p.Stock.TrackStock {
		return nil
	}
	if p.Stock.Quantity < qty {
		return &product.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock.Quantity}
	}

	p.Stock.Quantity -= qty
	if p.Stock.Quantity == 0 {
		p.Status = product.StatusOutOfStock
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ProductRepository) ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	if !p.Stock.TrackStock {
		return nil
	}

	p.Stock.Quantity += qty
	if p.Status == product.StatusOutOfStock && p.Stock.Quantity > 0 {
		p.Status = product.StatusActive
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
