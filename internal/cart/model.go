package cart

import (
	"time"

	"github.com/gofrs/uuid"
)

// CartItem is one candidate purchase line. Price is a snapshot of the
// product price taken when the line was added or last refreshed, not a live
// reference.
type CartItem struct {
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Image     string    `json:"image" db:"image"`
	Price     float64   `json:"price" db:"price"`
	Quantity  int       `json:"quantity" db:"quantity"`
}

// Cart is the per-user aggregate. TotalItems and TotalAmount are derived
// from Items and recomputed before every save; they are never set directly.
type Cart struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	Items       []CartItem `json:"items" db:"-"`
	TotalItems  int        `json:"total_items" db:"total_items"`
	TotalAmount float64    `json:"total_amount" db:"total_amount"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

func (c *Cart) recomputeTotals() {
	totalItems := 0
	totalAmount := 0.0
	for _, item := range c.Items {
		totalItems += item.Quantity
		totalAmount += item.Price * float64(item.Quantity)
	}
	c.TotalItems = totalItems
	c.TotalAmount = totalAmount
}

func (c *Cart) findItem(productID uuid.UUID) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Summary is the totals-only view of a cart.
type Summary struct {
	TotalItems  int     `json:"total_items"`
	TotalAmount float64 `json:"total_amount"`
}

// GuestItem is a line from an anonymous session cart, to be merged into the
// authenticated user's cart after login.
type GuestItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type SkippedItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Reason    string    `json:"reason"`
}

// MigrationReport summarises a guest-cart merge: how many lines made it in
// and which ones were skipped and why.
type MigrationReport struct {
	Merged  int           `json:"merged"`
	Skipped []SkippedItem `json:"skipped"`
}
