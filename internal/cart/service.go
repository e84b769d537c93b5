package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrItemNotFound = errors.New("cart item not found")
)

// Catalog is the slice of the product service the cart needs: existence,
// purchasability, price and a read-only availability check. The cart never
// moves stock.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*product.Product, error)
	CheckAvailable(ctx context.Context, id uuid.UUID, qty int) (bool, error)
}

type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) (*Cart, error)
	GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error)
	SyncPrices(ctx context.Context, userID uuid.UUID) (*Cart, bool, error)
	MigrateGuestCart(ctx context.Context, userID uuid.UUID, guestItems []GuestItem) (*Cart, *MigrationReport, error)
}

type service struct {
	repo    Repository
	catalog Catalog
}

func NewService(repo Repository, catalog Catalog) Service {
	return &service{repo: repo, catalog: catalog}
}

// getOrCreate loads the user's cart, creating an empty one on first access.
func (s *service) getOrCreate(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate cart id: %w", err)
	}
	c = &Cart{ID: id, UserID: userID, Items: []CartItem{}}
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to create cart: %w", err)
	}
	log.Info().Stringer("user_id", userID).Stringer("cart_id", c.ID).Msg("service: cart created")
	return c, nil
}

// prune drops lines whose product is gone, not purchasable or out of stock.
// It reports whether anything was removed. Repair-on-read, not an error.
func (s *service) prune(ctx context.Context, c *Cart) (bool, error) {
	kept := c.Items[:0]
	pruned := false
	for _, item := range c.Items {
		p, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				pruned = true
				continue
			}
			return false, fmt.Errorf("service: failed to check cart line product: %w", err)
		}
		if !p.Purchasable() || !p.Available(1) {
			pruned = true
			continue
		}
		kept = append(kept, item)
	}
	c.Items = kept
	return pruned, nil
}

func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	pruned, err := s.prune(ctx, c)
	if err != nil {
		return nil, err
	}
	if pruned {
		c.recomputeTotals()
		if err := s.repo.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("service: failed to persist pruned cart: %w", err)
		}
		log.Info().Stringer("user_id", userID).Msg("service: cart pruned of unavailable lines")
	}
	return c, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			return nil, product.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch product for cart add: %w", err)
	}
	if !p.Purchasable() {
		return nil, fmt.Errorf("%w: product %s is not available for purchase", ErrValidation, p.Name)
	}

	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	requested := qty
	if i := c.findItem(productID); i >= 0 {
		requested += c.Items[i].Quantity
	}
	if !p.Available(requested) {
		return nil, &product.InsufficientStockError{ProductID: productID, Requested: requested, Available: p.Stock.Quantity}
	}

	if i := c.findItem(productID); i >= 0 {
		c.Items[i].Quantity += qty
	} else {
		c.Items = append(c.Items, CartItem{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			Quantity:  qty,
		})
	}

	c.recomputeTotals()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to save cart: %w", err)
	}
	return c, nil
}

func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := c.findItem(productID)
	if i < 0 {
		return nil, ErrItemNotFound
	}

	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrProductNotFound) {
			return nil, product.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch product for cart update: %w", err)
	}
	if !p.Available(qty) {
		return nil, &product.InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock.Quantity}
	}

	// Quantity is replaced, and the price snapshot is refreshed to the
	// product's current price.
	c.Items[i].Quantity = qty
	c.Items[i].Price = p.Price
	c.Items[i].Name = p.Name
	c.Items[i].Image = p.Image

	c.recomputeTotals()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to save cart: %w", err)
	}
	return c, nil
}

func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Cart, error) {
	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := c.findItem(productID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)

	c.recomputeTotals()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to save cart: %w", err)
	}
	return c, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.Items = []CartItem{}
	c.recomputeTotals()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to clear cart: %w", err)
	}
	return c, nil
}

func (s *service) GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Summary{TotalItems: c.TotalItems, TotalAmount: c.TotalAmount}, nil
}

// SyncPrices refreshes every line's price snapshot to the live product
// price. The returned bool reports whether any line changed (including lines
// pruned because their product vanished).
func (s *service) SyncPrices(ctx context.Context, userID uuid.UUID) (*Cart, bool, error) {
	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	changed := false
	kept := c.Items[:0]
	for _, item := range c.Items {
		p, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				changed = true
				continue
			}
			return nil, false, fmt.Errorf("service: failed to fetch product for price sync: %w", err)
		}
		if !p.Purchasable() {
			changed = true
			continue
		}
		if item.Price != p.Price {
			item.Price = p.Price
			changed = true
		}
		kept = append(kept, item)
	}
	c.Items = kept

	if changed {
		c.recomputeTotals()
		if err := s.repo.Save(ctx, c); err != nil {
			return nil, false, fmt.Errorf("service: failed to save cart after price sync: %w", err)
		}
		log.Info().Stringer("user_id", userID).Msg("service: cart prices synced")
	}
	return c, changed, nil
}

// MigrateGuestCart merges an anonymous session's items into the user's cart.
// Best-effort: dead or unpurchasable lines are skipped, quantities are
// capped at available stock, and the caller gets a report of what happened.
func (s *service) MigrateGuestCart(ctx context.Context, userID uuid.UUID, guestItems []GuestItem) (*Cart, *MigrationReport, error) {
	c, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	report := &MigrationReport{Skipped: []SkippedItem{}}

	for _, gi := range guestItems {
		if gi.Quantity < 1 {
			report.Skipped = append(report.Skipped, SkippedItem{ProductID: gi.ProductID, Reason: "invalid quantity"})
			continue
		}

		p, err := s.catalog.GetProduct(ctx, gi.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				report.Skipped = append(report.Skipped, SkippedItem{ProductID: gi.ProductID, Reason: "product no longer exists"})
				continue
			}
			return nil, nil, fmt.Errorf("service: failed to fetch product for guest migration: %w", err)
		}
		if !p.Purchasable() {
			report.Skipped = append(report.Skipped, SkippedItem{ProductID: gi.ProductID, Reason: "product not available for purchase"})
			continue
		}

		existing := 0
		if i := c.findItem(gi.ProductID); i >= 0 {
			existing = c.Items[i].Quantity
		}

		merged := existing + gi.Quantity
		if p.Stock.TrackStock && merged > p.Stock.Quantity {
			merged = p.Stock.Quantity
		}
		if merged <= existing {
			report.Skipped = append(report.Skipped, SkippedItem{ProductID: gi.ProductID, Reason: "out of stock"})
			continue
		}

		if i := c.findItem(gi.ProductID); i >= 0 {
			c.Items[i].Quantity = merged
		} else {
			c.Items = append(c.Items, CartItem{
				ProductID: p.ID,
				Name:      p.Name,
				Image:     p.Image,
				Price:     p.Price,
				Quantity:  merged,
			})
		}
		report.Merged++
	}

	c.recomputeTotals()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, nil, fmt.Errorf("service: failed to save migrated cart: %w", err)
	}

	log.Info().
		Stringer("user_id", userID).
		Int("merged", report.Merged).
		Int("skipped", len(report.Skipped)).
		Msg("service: guest cart migrated")
	return c, report, nil
}
