package product

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusOutOfStock Status = "out_of_stock"
)

func (s Status) String() string {
	return string(s)
}

// Stock is the inventory sub-record embedded in every product. When
// TrackStock is false the quantity is ignored and the product is always
// considered available.
type Stock struct {
	Quantity          int  `json:"quantity" db:"stock_quantity"`
	TrackStock        bool `json:"track_stock" db:"track_stock"`
	LowStockThreshold int  `json:"low_stock_threshold" db:"low_stock_threshold"`
}

type Product struct {
	ID          uuid.UUID `json:"id" db:"id"`
	SKU         string    `json:"sku" db:"sku"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Image       string    `json:"image" db:"image"`
	Price       float64   `json:"price" db:"price"`
	Status      Status    `json:"status" db:"status"`
	Stock       Stock     `json:"stock"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Purchasable reports whether the product may be added to carts and orders.
func (p *Product) Purchasable() bool {
	return p.Status == StatusActive
}

// Available reports whether qty units can currently be supplied.
func (p *Product) Available(qty int) bool {
	if !p.Stock.TrackStock {
		return true
	}
	return p.Stock.Quantity >= qty
}
