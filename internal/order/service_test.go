package order_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/memory"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

// fakeCartReader serves a fixed cart per user; checkout only reads carts.
type fakeCartReader struct {
	carts map[uuid.UUID]*cart.Cart
}

func (f *fakeCartReader) GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	if c, ok := f.carts[userID]; ok {
		return c, nil
	}
	return &cart.Cart{UserID: userID}, nil
}

type orderFixture struct {
	svc      order.Service
	products product.Service
	carts    *fakeCartReader
	userID   uuid.UUID
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	productSvc := product.NewService(memory.NewProductRepository())
	carts := &fakeCartReader{carts: map[uuid.UUID]*cart.Cart{}}
	svc := order.NewService(memory.NewOrderRepository(), productSvc, productSvc, carts, order.Pricing{
		ShippingFee: 5,
		TaxRate:     0.1,
	})
	return &orderFixture{
		svc:      svc,
		products: productSvc,
		carts:    carts,
		userID:   uuid.Must(uuid.NewV4()),
	}
}

func (f *orderFixture) addProduct(t *testing.T, name string, price float64, qty int) uuid.UUID {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), &product.Product{
		SKU:   "SKU-" + name,
		Name:  name,
		Price: price,
		Stock: product.Stock{Quantity: qty, TrackStock: true},
	})
	require.NoError(t, err)
	return p.ID
}

func (f *orderFixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.products.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock.Quantity
}

func (f *orderFixture) checkoutRequest(items ...order.CheckoutItem) order.CheckoutRequest {
	return order.CheckoutRequest{
		UserID: f.userID,
		Items:  items,
		ShippingAddress: order.Address{
			FullName: "Ada Obi",
			Phone:    "+2348000000000",
			Line1:    "12 Marina Road",
			City:     "Lagos",
			State:    "Lagos",
			Country:  "NG",
		},
		PaymentMethod: order.MethodCard,
	}
}

func TestOrderService_Checkout(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)
	hubID := f.addProduct(t, "hub", 35, 4)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
		order.CheckoutItem{ProductID: hubID, Quantity: 1},
	))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(o.OrderNumber, "GS-"), "order number %q", o.OrderNumber)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	require.Len(t, o.Items, 2)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, order.StatusPending, o.StatusHistory[0].Status)

	// Totals: subtotal 75, shipping 5, tax 7.5.
	assert.InDelta(t, 75.0, o.Subtotal, 1e-9)
	assert.InDelta(t, 5.0, o.ShippingFee, 1e-9)
	assert.InDelta(t, 7.5, o.Tax, 1e-9)
	assert.InDelta(t, 87.5, o.TotalAmount, 1e-9)
	for _, item := range o.Items {
		assert.InDelta(t, item.Price*float64(item.Quantity), item.LineTotal, 1e-9)
	}

	// Stock was reserved.
	assert.Equal(t, 8, f.stockOf(t, mouseID))
	assert.Equal(t, 3, f.stockOf(t, hubID))
}

func TestOrderService_Checkout_RollsBackOnInsufficientStock(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)
	soldOutID := f.addProduct(t, "keyboard", 90, 2)

	_, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
		order.CheckoutItem{ProductID: soldOutID, Quantity: 3},
	))
	require.ErrorIs(t, err, product.ErrInsufficientStock)

	// The mouse reservation was released; nothing is held back.
	assert.Equal(t, 5, f.stockOf(t, mouseID))
	assert.Equal(t, 2, f.stockOf(t, soldOutID))
}

func TestOrderService_Checkout_Validation(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)

	tests := []struct {
		name string
		req  order.CheckoutRequest
	}{
		{
			name: "missing_user",
			req: func() order.CheckoutRequest {
				r := f.checkoutRequest(order.CheckoutItem{ProductID: mouseID, Quantity: 1})
				r.UserID = uuid.Nil
				return r
			}(),
		},
		{
			name: "unknown_payment_method",
			req: func() order.CheckoutRequest {
				r := f.checkoutRequest(order.CheckoutItem{ProductID: mouseID, Quantity: 1})
				r.PaymentMethod = "barter"
				return r
			}(),
		},
		{
			name: "incomplete_address",
			req: func() order.CheckoutRequest {
				r := f.checkoutRequest(order.CheckoutItem{ProductID: mouseID, Quantity: 1})
				r.ShippingAddress.City = ""
				return r
			}(),
		},
		{
			name: "negative_discount",
			req: func() order.CheckoutRequest {
				r := f.checkoutRequest(order.CheckoutItem{ProductID: mouseID, Quantity: 1})
				r.Discount = -10
				return r
			}(),
		},
		{
			name: "zero_quantity",
			req:  f.checkoutRequest(order.CheckoutItem{ProductID: mouseID, Quantity: 0}),
		},
		{
			name: "duplicate_product_line",
			req: f.checkoutRequest(
				order.CheckoutItem{ProductID: mouseID, Quantity: 1},
				order.CheckoutItem{ProductID: mouseID, Quantity: 2},
			),
		},
		{
			name: "empty_cart_and_no_items",
			req:  f.checkoutRequest(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tt.req)
			assert.ErrorIs(t, err, order.ErrValidation)
		})
	}

	// None of the rejected checkouts held stock.
	assert.Equal(t, 5, f.stockOf(t, mouseID))
}

func TestOrderService_Checkout_SourcesLinesFromCart(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)
	f.carts.carts[f.userID] = &cart.Cart{
		UserID: f.userID,
		Items:  []cart.CartItem{{ProductID: mouseID, Quantity: 3, Price: 20}},
	}

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest())
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, 7, f.stockOf(t, mouseID))
}

func TestOrderService_Checkout_LastUnitRace(t *testing.T) {
	f := newOrderFixture(t)
	scarceID := f.addProduct(t, "limited", 100, 1)
	otherUser := uuid.Must(uuid.NewV4())

	requests := []order.CheckoutRequest{
		f.checkoutRequest(order.CheckoutItem{ProductID: scarceID, Quantity: 1}),
		func() order.CheckoutRequest {
			r := f.checkoutRequest(order.CheckoutItem{ProductID: scarceID, Quantity: 1})
			r.UserID = otherUser
			return r
		}(),
	}

	results := make(chan error, len(requests))
	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(req order.CheckoutRequest) {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), req)
			results <- err
		}(req)
	}
	wg.Wait()
	close(results)

	succeeded, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, product.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 0, f.stockOf(t, scarceID))
}

func TestOrderService_UpdateStatus(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)

	// Legal path: pending -> confirmed -> processing.
	o2, err := f.svc.UpdateStatus(context.Background(), o.ID, order.StatusConfirmed, "payment ok")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o2.Status)

	o3, err := f.svc.UpdateStatus(context.Background(), o.ID, order.StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o3.Status)
	require.Len(t, o3.StatusHistory, 3)
	assert.Equal(t, order.StatusProcessing, o3.StatusHistory[2].Status)

	// Illegal jump: processing -> delivered.
	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.StatusDelivered, "")
	assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
}

func TestOrderService_Cancel_ReleasesStockExactlyOnce(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
	))
	require.NoError(t, err)
	require.Equal(t, 3, f.stockOf(t, mouseID))

	cancelled, err := f.svc.Cancel(context.Background(), o.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(t, mouseID))

	// A second cancel must not release again.
	_, err = f.svc.Cancel(context.Background(), o.ID, f.userID)
	assert.ErrorIs(t, err, order.ErrOrderAlreadyCancelled)
	assert.Equal(t, 5, f.stockOf(t, mouseID))
}

func TestOrderService_Cancel_OwnershipAndStatusGuards(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)

	// Another user may not cancel it.
	_, err = f.svc.Cancel(context.Background(), o.ID, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrNotOrderOwner)

	// An operator (uuid.Nil) may.
	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.StatusConfirmed, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.StatusProcessing, "")
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.StatusShipped, "")
	require.NoError(t, err)

	// Shipped orders are past the point of no return.
	_, err = f.svc.Cancel(context.Background(), o.ID, uuid.Nil)
	assert.ErrorIs(t, err, order.ErrOrderNotCancellable)
}

func TestOrderService_Delete_CompensatesStock(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
	))
	require.NoError(t, err)
	require.Equal(t, 3, f.stockOf(t, mouseID))

	require.NoError(t, f.svc.Delete(context.Background(), o.ID))
	assert.Equal(t, 5, f.stockOf(t, mouseID))

	_, err = f.svc.GetByID(context.Background(), o.ID)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderService_Delete_CancelledOrderIsNotDoubleReleased(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 5)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
	))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), o.ID, f.userID)
	require.NoError(t, err)
	require.Equal(t, 5, f.stockOf(t, mouseID))

	require.NoError(t, f.svc.Delete(context.Background(), o.ID))
	assert.Equal(t, 5, f.stockOf(t, mouseID))
}

func TestOrderService_BulkDelete_BestEffort(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)
	missing := uuid.Must(uuid.NewV4())

	report, err := f.svc.BulkDelete(context.Background(), []uuid.UUID{o.ID, missing})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{o.ID}, report.Deleted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, missing, report.Failed[0].ID)
}

func TestOrderService_ListAndStats(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 20)

	first, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 2},
	))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), first.ID, order.StatusConfirmed, "")
	require.NoError(t, err)

	page, err := f.svc.List(context.Background(), order.Filter{Status: order.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	mine, err := f.svc.ListForUser(context.Background(), f.userID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)

	// Revenue only counts paid orders.
	require.NoError(t, f.svc.SetPaymentState(context.Background(), first.ID,
		order.PaymentPending, order.PaymentPaid, "PAY-test", nil))

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.InDelta(t, first.TotalAmount, stats.TotalRevenue, 1e-9)
}

func TestOrderService_SetPaymentState_Conditional(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)

	err = f.svc.SetPaymentState(context.Background(), o.ID,
		order.PaymentPending, order.PaymentPaid, "PAY-abc", map[string]any{"channel": "card"})
	require.NoError(t, err)

	// The guard: a write expecting the old state now conflicts.
	err = f.svc.SetPaymentState(context.Background(), o.ID,
		order.PaymentPending, order.PaymentFailed, "PAY-late", nil)
	assert.ErrorIs(t, err, order.ErrStateConflict)

	got, err := f.svc.GetByPaymentReference(context.Background(), "PAY-abc")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "card", got.PaymentDetails["channel"])
}

func TestOrderService_ConfirmPaid(t *testing.T) {
	f := newOrderFixture(t)
	mouseID := f.addProduct(t, "mouse", 20, 10)

	o, err := f.svc.Checkout(context.Background(), f.checkoutRequest(
		order.CheckoutItem{ProductID: mouseID, Quantity: 1},
	))
	require.NoError(t, err)

	require.NoError(t, f.svc.ConfirmPaid(context.Background(), o.ID))

	got, err := f.svc.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	// Idempotent on orders that already progressed.
	require.NoError(t, f.svc.ConfirmPaid(context.Background(), o.ID))
	got, err = f.svc.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.Len(t, got.StatusHistory, 2)
}
