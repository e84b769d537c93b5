package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[uuid.UUID]*cart.Cart // keyed by user id, one cart per user
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[uuid.UUID]*cart.Cart)}
}

func cloneCart(c *cart.Cart) *cart.Cart {
	clone := *c
	clone.Items = make([]cart.CartItem, len(c.Items))
	copy(clone.Items, c.Items)
	return &clone
}

func (r *CartRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()
	if existing, ok := r.carts[c.UserID]; ok {
		// One cart per user: a racing lazy creation keeps the first id.
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	r.carts[c.UserID] = cloneCart(c)
	return nil
}
