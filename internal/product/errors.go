package product

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrProductNotFound   = errors.New("product not found")
	ErrSKUExists         = errors.New("product with this SKU already exists")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError carries the remaining quantity so callers can tell
// the user how many units are still available. errors.Is(err,
// ErrInsufficientStock) matches it.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
