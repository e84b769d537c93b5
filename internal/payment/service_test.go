package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/memory"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

const testWebhookSecret = "sk_test_secret"

type mockProvider struct {
	initializeFunc func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error)
	verifyFunc     func(ctx context.Context, reference string) (*payment.VerifyResult, error)
}

func (m *mockProvider) Initialize(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
	return m.initializeFunc(ctx, email, amount, reference)
}

func (m *mockProvider) Verify(ctx context.Context, reference string) (*payment.VerifyResult, error) {
	return m.verifyFunc(ctx, reference)
}

type emptyCartReader struct{}

func (emptyCartReader) GetCart(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	return &cart.Cart{UserID: userID}, nil
}

type paymentFixture struct {
	svc      payment.Service
	orders   order.Service
	products product.Service
	provider *mockProvider
}

// newPaymentFixture wires the payment service against a real order service
// over the in-memory store, so the conditional-write semantics under test
// are the real ones.
func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	productSvc := product.NewService(memory.NewProductRepository())
	orderSvc := order.NewService(memory.NewOrderRepository(), productSvc, productSvc, emptyCartReader{}, order.Pricing{})
	provider := &mockProvider{}
	return &paymentFixture{
		svc:      payment.NewService(orderSvc, provider, testWebhookSecret),
		orders:   orderSvc,
		products: productSvc,
		provider: provider,
	}
}

func (f *paymentFixture) placeOrder(t *testing.T, method order.PaymentMethod) *order.Order {
	t.Helper()
	p, err := f.products.CreateProduct(context.Background(), &product.Product{
		SKU:   "SKU-" + uuid.Must(uuid.NewV4()).String()[:8],
		Name:  "Gadget",
		Price: 50,
		Stock: product.Stock{Quantity: 100, TrackStock: true},
	})
	require.NoError(t, err)

	o, err := f.orders.Checkout(context.Background(), order.CheckoutRequest{
		UserID: uuid.Must(uuid.NewV4()),
		Items:  []order.CheckoutItem{{ProductID: p.ID, Quantity: 1}},
		ShippingAddress: order.Address{
			FullName: "Ada Obi",
			Line1:    "12 Marina Road",
			City:     "Lagos",
		},
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return o
}

func TestPaymentService_ApplyOutcome_PaidConfirmsOrder(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	got, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentPaid, "PAY-1", map[string]any{"channel": "test"})
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "PAY-1", got.PaymentReference)
	assert.Equal(t, order.StatusConfirmed, got.Status)
}

func TestPaymentService_ApplyOutcome_DuplicateIsNoOp(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	_, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentPaid, "PAY-1", nil)
	require.NoError(t, err)

	// Redelivery of the same (status, reference) tuple changes nothing,
	// and in particular does not confirm twice.
	got, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentPaid, "PAY-1", nil)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)

	final, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	confirmations := 0
	for _, ev := range final.StatusHistory {
		if ev.Status == order.StatusConfirmed {
			confirmations++
		}
	}
	assert.Equal(t, 1, confirmations)
}

func TestPaymentService_ApplyOutcome_StaleOutcomeDiscarded(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	_, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentPaid, "PAY-1", nil)
	require.NoError(t, err)

	// A late "failed" for an order already paid must not regress it.
	got, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentFailed, "PAY-late", nil)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "PAY-1", got.PaymentReference)
}

func TestPaymentService_ApplyOutcome_FailedThenPaid(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	_, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentFailed, "PAY-1", nil)
	require.NoError(t, err)

	// A retry that succeeds moves forward past the failure.
	got, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentPaid, "PAY-2", nil)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "PAY-2", got.PaymentReference)
}

func TestPaymentService_ApplyOutcome_UnknownOrder(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.ApplyOutcome(context.Background(), uuid.Must(uuid.NewV4()), order.PaymentPaid, "PAY-ghost", nil)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPaymentService_ApplyOutcome_InvalidStatus(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	_, err := f.svc.ApplyOutcome(context.Background(), o.ID, order.PaymentStatus("settled"), "PAY-1", nil)
	assert.ErrorIs(t, err, payment.ErrValidation)
}

func TestPaymentService_Initialize(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	var gotAmount float64
	f.provider.initializeFunc = func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
		gotAmount = amount
		return &payment.InitResult{Reference: reference, RedirectURL: "https://checkout.example/abc"}, nil
	}

	result, err := f.svc.Initialize(context.Background(), o.ID, "ada@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Reference)
	assert.Equal(t, "https://checkout.example/abc", result.RedirectURL)
	assert.InDelta(t, o.TotalAmount, gotAmount, 1e-9)

	// The reference is recorded on the order without touching the status.
	got, err := f.orders.GetByPaymentReference(context.Background(), result.Reference)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestPaymentService_Initialize_Rejections(t *testing.T) {
	f := newPaymentFixture(t)
	card := f.placeOrder(t, order.MethodCard)
	cod := f.placeOrder(t, order.MethodCashOnDelivery)

	_, err := f.svc.Initialize(context.Background(), card.ID, "")
	assert.ErrorIs(t, err, payment.ErrValidation)

	_, err = f.svc.Initialize(context.Background(), cod.ID, "ada@example.com")
	assert.ErrorIs(t, err, payment.ErrValidation)

	_, err = f.svc.ApplyOutcome(context.Background(), card.ID, order.PaymentPaid, "PAY-done", nil)
	require.NoError(t, err)
	_, err = f.svc.Initialize(context.Background(), card.ID, "ada@example.com")
	assert.ErrorIs(t, err, payment.ErrValidation)
}

func TestPaymentService_Initialize_ProviderDown(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	f.provider.initializeFunc = func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
		return nil, fmt.Errorf("connection refused")
	}

	_, err := f.svc.Initialize(context.Background(), o.ID, "ada@example.com")
	assert.ErrorIs(t, err, payment.ErrProviderFailure)

	// Nothing was recorded.
	got, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PaymentReference)
}

func TestPaymentService_Verify(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	f.provider.initializeFunc = func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
		return &payment.InitResult{Reference: reference}, nil
	}
	init, err := f.svc.Initialize(context.Background(), o.ID, "ada@example.com")
	require.NoError(t, err)

	f.provider.verifyFunc = func(ctx context.Context, reference string) (*payment.VerifyResult, error) {
		return &payment.VerifyResult{Success: true, ProviderRef: "928374", Amount: o.TotalAmount}, nil
	}

	got, err := f.svc.Verify(context.Background(), init.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	// A second verify is a duplicate and harmless.
	got, err = f.svc.Verify(context.Background(), init.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
}

func TestPaymentService_Verify_FailedCharge(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	f.provider.initializeFunc = func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
		return &payment.InitResult{Reference: reference}, nil
	}
	init, err := f.svc.Initialize(context.Background(), o.ID, "ada@example.com")
	require.NoError(t, err)

	f.provider.verifyFunc = func(ctx context.Context, reference string) (*payment.VerifyResult, error) {
		return &payment.VerifyResult{Success: false}, nil
	}

	got, err := f.svc.Verify(context.Background(), init.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestPaymentService_Verify_UnknownReference(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Verify(context.Background(), "PAY-nobody")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPaymentService_ConfirmCashOnDelivery(t *testing.T) {
	f := newPaymentFixture(t)
	cod := f.placeOrder(t, order.MethodCashOnDelivery)
	card := f.placeOrder(t, order.MethodCard)

	got, err := f.svc.ConfirmCashOnDelivery(context.Background(), cod.ID, true, "collected by courier")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "COD-"+cod.OrderNumber, got.PaymentReference)

	_, err = f.svc.ConfirmCashOnDelivery(context.Background(), card.ID, true, "")
	assert.ErrorIs(t, err, payment.ErrValidation)
}

func signPayload(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	f := newPaymentFixture(t)
	o := f.placeOrder(t, order.MethodCard)

	f.provider.initializeFunc = func(ctx context.Context, email string, amount float64, reference string) (*payment.InitResult, error) {
		return &payment.InitResult{Reference: reference}, nil
	}
	init, err := f.svc.Initialize(context.Background(), o.ID, "ada@example.com")
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":15000,"id":42,"status":"success"}}`, init.Reference))

	err = f.svc.HandleWebhook(context.Background(), signPayload(payload), payload)
	require.NoError(t, err)

	got, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	// Redelivery is a no-op.
	require.NoError(t, f.svc.HandleWebhook(context.Background(), signPayload(payload), payload))
}

func TestPaymentService_HandleWebhook_BadSignature(t *testing.T) {
	f := newPaymentFixture(t)

	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY-1"}}`)
	err := f.svc.HandleWebhook(context.Background(), "deadbeef", payload)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestPaymentService_HandleWebhook_UnknownOrderIsSwallowed(t *testing.T) {
	f := newPaymentFixture(t)

	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY-nobody","amount":100}}`)
	err := f.svc.HandleWebhook(context.Background(), signPayload(payload), payload)
	assert.NoError(t, err)
}

func TestPaymentService_HandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newPaymentFixture(t)

	payload := []byte(`{"event":"transfer.success","data":{"reference":"PAY-1"}}`)
	err := f.svc.HandleWebhook(context.Background(), signPayload(payload), payload)
	assert.NoError(t, err)
}

func TestPaymentService_HandleWebhook_MalformedPayload(t *testing.T) {
	f := newPaymentFixture(t)

	payload := []byte(`{not json`)
	err := f.svc.HandleWebhook(context.Background(), signPayload(payload), payload)
	assert.ErrorIs(t, err, payment.ErrValidation)
}
