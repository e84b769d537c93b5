package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/observability"
)

// Service is the catalog plus the inventory ledger. Reserve and Release are
// the only paths that move stock.
type Service interface {
	CreateProduct(ctx context.Context, p *Product) (*Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	UpdateProduct(ctx context.Context, p *Product) (*Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	LowStock(ctx context.Context) ([]Product, error)

	CheckAvailable(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	Reserve(ctx context.Context, id uuid.UUID, qty int) error
	Release(ctx context.Context, id uuid.UUID, qty int) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateProduct(ctx context.Context, p *Product) (*Product, error) {
	if p.SKU == "" {
		return nil, fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if p.Price < 0 {
		return nil, fmt.Errorf("%w: price cannot be negative", ErrValidation)
	}
	if p.Stock.Quantity < 0 {
		return nil, fmt.Errorf("%w: stock quantity cannot be negative", ErrValidation)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate product id: %w", err)
	}
	p.ID = id

	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Stock.TrackStock && p.Stock.Quantity == 0 {
		p.Status = StatusOutOfStock
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrSKUExists) {
			log.Warn().Str("sku", p.SKU).Msg("service: duplicate SKU on product create")
			return nil, ErrSKUExists
		}
		log.Error().Err(err).Msg("service: failed to create product")
		return nil, fmt.Errorf("service: failed to create product: %w", err)
	}

	log.Info().Stringer("product_id", p.ID).Str("sku", p.SKU).Msg("service: product created")
	return p, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}
	return p, nil
}

func (s *service) UpdateProduct(ctx context.Context, p *Product) (*Product, error) {
	if p.Price < 0 {
		return nil, fmt.Errorf("%w: price cannot be negative", ErrValidation)
	}
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrSKUExists) {
			return nil, err
		}
		return nil, fmt.Errorf("service: failed to update product: %w", err)
	}
	return p, nil
}

func (s *service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	// Order items hold copied name/price/image, so removing the product
	// cannot corrupt historical orders.
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("service: failed to delete product: %w", err)
	}
	log.Info().Stringer("product_id", id).Msg("service: product deleted")
	return nil
}

func (s *service) LowStock(ctx context.Context) ([]Product, error) {
	products, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list low-stock products: %w", err)
	}
	return products, nil
}

func (s *service) CheckAvailable(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return false, ErrProductNotFound
		}
		return false, fmt.Errorf("service: failed to check availability: %w", err)
	}
	return p.Available(qty), nil
}

func (s *service) Reserve(ctx context.Context, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := s.repo.ReserveStock(ctx, id, qty); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			observability.ReservationFailures.Inc()
			log.Warn().Stringer("product_id", id).Int("quantity", qty).Msg("service: reservation refused, insufficient stock")
			return err
		}
		if errors.Is(err, ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("service: failed to reserve stock: %w", err)
	}
	return nil
}

func (s *service) Release(ctx context.Context, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := s.repo.ReleaseStock(ctx, id, qty); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			// The product was deleted after the order was placed. The order
			// snapshot is still valid; there is just nothing to return the
			// stock to.
			log.Warn().Stringer("product_id", id).Int("quantity", qty).Msg("service: release skipped, product no longer exists")
			return nil
		}
		return fmt.Errorf("service: failed to release stock: %w", err)
	}
	return nil
}
