package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/observability"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrOrderNotCancellable     = errors.New("order can no longer be cancelled")
	ErrOrderAlreadyCancelled   = errors.New("order is already cancelled")
	ErrNotOrderOwner           = errors.New("order belongs to another user")
)

// Ledger is the stock side of the product service: the only two operations
// checkout and compensation need.
type Ledger interface {
	Reserve(ctx context.Context, id uuid.UUID, qty int) error
	Release(ctx context.Context, id uuid.UUID, qty int) error
}

// Catalog supplies product existence, purchasability and the current price
// for the order snapshot.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*product.Product, error)
}

// CartReader sources checkout lines from the user's cart. The order engine
// reads the cart but never mutates it.
type CartReader interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
}

// Pricing holds the checkout-time pricing knobs.
type Pricing struct {
	ShippingFee float64
	TaxRate     float64
}

type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*Order, error)
	List(ctx context.Context, f Filter) (*Page, error)
	ListForUser(ctx context.Context, userID uuid.UUID, page, limit int) (*Page, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, note string) (*Order, error)
	Cancel(ctx context.Context, id, requesterID uuid.UUID) (*Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BulkDelete(ctx context.Context, ids []uuid.UUID) (*BulkDeleteReport, error)
	Stats(ctx context.Context) (*Stats, error)

	// SetPaymentState is the conditional primitive payment reconciliation
	// builds on. It never decides whether an outcome should apply; it only
	// applies it if the order's payment status is still from.
	SetPaymentState(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference string, details map[string]any) error

	// ConfirmPaid moves a pending order to confirmed after payment. Orders
	// that have already progressed are left alone.
	ConfirmPaid(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo    Repository
	catalog Catalog
	ledger  Ledger
	carts   CartReader
	pricing Pricing
}

func NewService(repo Repository, catalog Catalog, ledger Ledger, carts CartReader, pricing Pricing) Service {
	return &service{
		repo:    repo,
		catalog: catalog,
		ledger:  ledger,
		carts:   carts,
		pricing: pricing,
	}
}

// reservedLine remembers a successful reservation so it can be compensated
// if a later line fails.
type reservedLine struct {
	productID uuid.UUID
	qty       int
}

// Checkout turns a validated request into an order. Reservations are made
// item by item with no cross-item lock; the first failure releases every
// line already reserved, so a checkout either fully succeeds or leaves no
// stock behind.
func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, req.PaymentMethod)
	}
	if req.Discount < 0 {
		return nil, fmt.Errorf("%w: discount cannot be negative", ErrValidation)
	}
	if req.ShippingAddress.Line1 == "" || req.ShippingAddress.City == "" {
		return nil, fmt.Errorf("%w: shipping address is incomplete", ErrValidation)
	}

	lines := req.Items
	if len(lines) == 0 {
		c, err := s.carts.GetCart(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("service: failed to read cart for checkout: %w", err)
		}
		for _, item := range c.Items {
			lines = append(lines, CheckoutItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}

	seen := make(map[uuid.UUID]bool, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %s must be at least 1", ErrValidation, line.ProductID)
		}
		if seen[line.ProductID] {
			return nil, fmt.Errorf("%w: duplicate product %s in checkout", ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = true
	}

	var (
		items    []OrderItem
		reserved []reservedLine
		subtotal float64
	)

	rollback := func() {
		for _, line := range reserved {
			if err := s.ledger.Release(ctx, line.productID, line.qty); err != nil {
				log.Error().Err(err).
					Stringer("product_id", line.productID).
					Int("quantity", line.qty).
					Msg("service: failed to release stock during checkout rollback")
			}
		}
	}

	for _, line := range lines {
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			rollback()
			if errors.Is(err, product.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: product %s no longer exists", ErrValidation, line.ProductID)
			}
			return nil, fmt.Errorf("service: failed to fetch product for checkout: %w", err)
		}
		if !p.Purchasable() {
			rollback()
			return nil, fmt.Errorf("%w: product %s is not available for purchase", ErrValidation, p.Name)
		}

		if err := s.ledger.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			rollback()
			return nil, err
		}
		reserved = append(reserved, reservedLine{productID: line.ProductID, qty: line.Quantity})

		lineTotal := p.Price * float64(line.Quantity)
		subtotal += lineTotal
		items = append(items, OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
	}

	number, err := s.repo.NextOrderNumber(ctx)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("service: failed to assign order number: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		rollback()
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	now := time.Now().UTC()
	tax := subtotal * s.pricing.TaxRate
	o := &Order{
		ID:              id,
		OrderNumber:     fmt.Sprintf("GS-%08d", number),
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		PaymentDetails:  map[string]any{},
		Subtotal:        subtotal,
		ShippingFee:     s.pricing.ShippingFee,
		Tax:             tax,
		Discount:        req.Discount,
		TotalAmount:     subtotal + s.pricing.ShippingFee + tax - req.Discount,
		Status:          StatusPending,
		StatusHistory: []StatusEvent{
			{Status: StatusPending, Note: "order created", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, o); err != nil {
		rollback()
		log.Error().Err(err).Msg("service: failed to persist order")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	observability.OrdersCreated.Inc()
	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Stringer("user_id", o.UserID).
		Float64("total_amount", o.TotalAmount).
		Msg("service: order created")
	return o, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return o, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	return o, nil
}

func (s *service) GetByPaymentReference(ctx context.Context, reference string) (*Order, error) {
	o, err := s.repo.GetByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by payment reference: %w", err)
	}
	return o, nil
}

func (s *service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Status != "" && allowedTransitions[f.Status] == nil {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrValidation, f.PaymentStatus)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	orders, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, page, limit int) (*Page, error) {
	return s.List(ctx, Filter{UserID: userID, Page: page, Limit: limit})
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status, note string) (*Order, error) {
	// Cancellation owes stock compensation; route it through Cancel so the
	// release logic lives in exactly one place.
	if newStatus == StatusCancelled {
		return s.Cancel(ctx, id, uuid.Nil)
	}

	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(o.Status, newStatus) {
		log.Warn().
			Stringer("order_id", id).
			Stringer("current_status", o.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, newStatus)
	}

	event := StatusEvent{Status: newStatus, Note: note, At: time.Now().UTC()}
	if err := s.repo.TransitionStatus(ctx, id, o.Status, newStatus, event); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrStateConflict
		}
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().
		Stringer("order_id", id).
		Stringer("old_status", o.Status).
		Stringer("new_status", newStatus).
		Msg("service: order status updated")
	return s.GetByID(ctx, id)
}

// Cancel rejects shipped and delivered orders, releases every line's stock
// exactly once and transitions to cancelled. requesterID restricts the call
// to the order's owner; uuid.Nil means an operator is acting.
func (s *service) Cancel(ctx context.Context, id, requesterID uuid.UUID) (*Order, error) {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if requesterID != uuid.Nil && o.UserID != requesterID {
		return nil, ErrNotOrderOwner
	}
	if o.Status == StatusCancelled {
		return nil, ErrOrderAlreadyCancelled
	}
	if o.Status == StatusShipped || o.Status == StatusDelivered {
		return nil, fmt.Errorf("%w: status is %s", ErrOrderNotCancellable, o.Status)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, StatusCancelled)
	}

	// The conditional transition is what makes the release exactly-once: a
	// second cancel (or a concurrent one) fails the WHERE clause and never
	// reaches the ledger.
	event := StatusEvent{Status: StatusCancelled, Note: "order cancelled", At: time.Now().UTC()}
	if err := s.repo.TransitionStatus(ctx, id, o.Status, StatusCancelled, event); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil, ErrStateConflict
		}
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to cancel order: %w", err)
	}

	s.releaseItems(ctx, o)
	observability.OrdersCancelled.Inc()

	log.Info().Stringer("order_id", id).Str("order_number", o.OrderNumber).Msg("service: order cancelled")
	return s.GetByID(ctx, id)
}

func (s *service) releaseItems(ctx context.Context, o *Order) {
	for _, item := range o.Items {
		if err := s.ledger.Release(ctx, item.ProductID, item.Quantity); err != nil {
			log.Error().Err(err).
				Stringer("order_id", o.ID).
				Stringer("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("service: failed to release stock for cancelled order line")
		}
	}
}

// Delete hard-deletes an order. Stock is compensated unless the order was
// already cancelled, in which case the release has happened.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// The status returned by the delete itself is authoritative: a cancel
	// racing this delete either released the stock and left status
	// cancelled, or lost the race and did nothing.
	status, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to delete order: %w", err)
	}

	if status != StatusCancelled {
		s.releaseItems(ctx, o)
	}

	log.Info().Stringer("order_id", id).Str("order_number", o.OrderNumber).Msg("service: order deleted")
	return nil
}

// BulkDelete is best-effort: one order's failure is recorded and skipped,
// never allowed to abort the batch.
func (s *service) BulkDelete(ctx context.Context, ids []uuid.UUID) (*BulkDeleteReport, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no order ids given", ErrValidation)
	}

	report := &BulkDeleteReport{Deleted: []uuid.UUID{}, Failed: []FailedDelete{}}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: bulk delete skipped order")
			report.Failed = append(report.Failed, FailedDelete{ID: id, Reason: err.Error()})
			continue
		}
		report.Deleted = append(report.Deleted, id)
	}
	return report, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to aggregate order stats: %w", err)
	}
	return stats, nil
}

func (s *service) SetPaymentState(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference string, details map[string]any) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrValidation, to)
	}
	err := s.repo.SetPaymentState(ctx, id, from, to, reference, details)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrStateConflict) {
			return err
		}
		return fmt.Errorf("service: failed to set payment state: %w", err)
	}
	return nil
}

func (s *service) ConfirmPaid(ctx context.Context, id uuid.UUID) error {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return nil
	}

	event := StatusEvent{Status: StatusConfirmed, Note: "payment confirmed", At: time.Now().UTC()}
	err = s.repo.TransitionStatus(ctx, id, StatusPending, StatusConfirmed, event)
	if err != nil && !errors.Is(err, ErrStateConflict) {
		return fmt.Errorf("service: failed to confirm paid order: %w", err)
	}
	return nil
}
