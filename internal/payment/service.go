package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/observability"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrProviderFailure  = errors.New("payment provider call failed")
)

// Orders is the slice of the order engine that reconciliation touches:
// lookups plus the two payment-side mutations.
type Orders interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*order.Order, error)
	SetPaymentState(ctx context.Context, id uuid.UUID, from, to order.PaymentStatus, reference string, details map[string]any) error
	ConfirmPaid(ctx context.Context, id uuid.UUID) error
}

type Service interface {
	Initialize(ctx context.Context, orderID uuid.UUID, email string) (*InitResult, error)
	Verify(ctx context.Context, reference string) (*order.Order, error)
	ConfirmCashOnDelivery(ctx context.Context, orderID uuid.UUID, collected bool, note string) (*order.Order, error)
	HandleWebhook(ctx context.Context, signature string, payload []byte) error

	// ApplyOutcome is the single funnel every payment entry point feeds.
	// It is idempotent and never moves payment state backwards.
	ApplyOutcome(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus, reference string, details map[string]any) (*order.Order, error)
}

type service struct {
	orders        Orders
	provider      Provider
	webhookSecret string
}

func NewService(orders Orders, provider Provider, webhookSecret string) Service {
	return &service{orders: orders, provider: provider, webhookSecret: webhookSecret}
}

// ApplyOutcome correlates one payment outcome with its order. Duplicates of
// the recorded (status, reference) tuple are no-ops; outcomes ranked below
// the current payment status are discarded as stale. The first arrival at
// paid confirms a pending order, and the conditional state write guarantees
// that side effect fires at most once even under concurrent delivery.
func (s *service) ApplyOutcome(ctx context.Context, orderID uuid.UUID, status order.PaymentStatus, reference string, details map[string]any) (*order.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrValidation, status)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			observability.PaymentOutcomesDropped.WithLabelValues("unmatched").Inc()
			log.Warn().Stringer("order_id", orderID).Str("reference", reference).Msg("payment: outcome dropped, order not found")
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("payment: failed to fetch order for outcome: %w", err)
	}

	applied := false
	for attempt := 0; attempt < 3 && !applied; attempt++ {
		if o.PaymentStatus == status && o.PaymentReference == reference {
			observability.PaymentOutcomesDropped.WithLabelValues("duplicate").Inc()
			log.Info().Stringer("order_id", orderID).Str("reference", reference).Msg("payment: duplicate outcome, nothing to do")
			return o, nil
		}
		if order.PaymentRank(status) < order.PaymentRank(o.PaymentStatus) {
			observability.PaymentOutcomesDropped.WithLabelValues("stale").Inc()
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("current_status", o.PaymentStatus).
				Stringer("incoming_status", status).
				Str("reference", reference).
				Msg("payment: stale outcome discarded")
			return o, nil
		}

		if err := s.orders.SetPaymentState(ctx, orderID, o.PaymentStatus, status, reference, details); err != nil {
			if errors.Is(err, order.ErrStateConflict) {
				// Another delivery of this or a later outcome raced us.
				// Re-read and re-evaluate the guards.
				o, err = s.orders.GetByID(ctx, orderID)
				if err != nil {
					return nil, fmt.Errorf("payment: failed to re-fetch order after conflict: %w", err)
				}
				continue
			}
			return nil, fmt.Errorf("payment: failed to apply outcome: %w", err)
		}
		applied = true
	}
	if !applied {
		return nil, fmt.Errorf("payment: failed to apply outcome: %w", order.ErrStateConflict)
	}

	observability.PaymentOutcomesApplied.WithLabelValues(status.String()).Inc()
	log.Info().
		Stringer("order_id", orderID).
		Stringer("payment_status", status).
		Str("reference", reference).
		Msg("payment: outcome applied")

	if status == order.PaymentPaid {
		// Runs only on the winning write, never on a duplicate.
		if err := s.orders.ConfirmPaid(ctx, orderID); err != nil {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("payment: failed to confirm paid order")
		}
	}

	return s.orders.GetByID(ctx, orderID)
}

// Initialize opens a payment with the provider for a pending order and
// records the reference so later callbacks can be correlated.
func (s *service) Initialize(ctx context.Context, orderID uuid.UUID, email string) (*InitResult, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("payment: failed to fetch order: %w", err)
	}
	if o.PaymentMethod == order.MethodCashOnDelivery {
		return nil, fmt.Errorf("%w: cash-on-delivery orders are confirmed manually", ErrValidation)
	}
	if o.PaymentStatus != order.PaymentPending {
		return nil, fmt.Errorf("%w: payment is already %s", ErrValidation, o.PaymentStatus)
	}

	refID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("payment: failed to generate reference: %w", err)
	}
	reference := "PAY-" + refID.String()

	result, err := s.provider.Initialize(ctx, email, o.TotalAmount, reference)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("payment: provider initialize failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	if result.Reference != "" {
		reference = result.Reference
	}

	// Same-rank write: records the reference without changing the status.
	if _, err := s.ApplyOutcome(ctx, orderID, order.PaymentPending, reference, map[string]any{
		"channel": "initialize",
		"email":   email,
	}); err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", orderID).Str("reference", reference).Msg("payment: initialized")
	return &InitResult{Reference: reference, RedirectURL: result.RedirectURL}, nil
}

// Verify asks the provider for the outcome of a reference and reconciles
// it. Safe to retry: the funnel discards duplicates.
func (s *service) Verify(ctx context.Context, reference string) (*order.Order, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrValidation)
	}

	o, err := s.orders.GetByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("payment: failed to match reference: %w", err)
	}

	result, err := s.provider.Verify(ctx, reference)
	if err != nil {
		log.Error().Err(err).Str("reference", reference).Msg("payment: provider verify failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	status := order.PaymentFailed
	if result.Success {
		status = order.PaymentPaid
	}
	return s.ApplyOutcome(ctx, o.ID, status, reference, map[string]any{
		"channel":      "verify",
		"provider_ref": result.ProviderRef,
		"amount":       result.Amount,
	})
}

// ConfirmCashOnDelivery records a human-verified outcome for a
// pay-on-delivery order.
func (s *service) ConfirmCashOnDelivery(ctx context.Context, orderID uuid.UUID, collected bool, note string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("payment: failed to fetch order: %w", err)
	}
	if o.PaymentMethod != order.MethodCashOnDelivery {
		return nil, fmt.Errorf("%w: order %s is not cash-on-delivery", ErrValidation, o.OrderNumber)
	}

	status := order.PaymentFailed
	if collected {
		status = order.PaymentPaid
	}
	return s.ApplyOutcome(ctx, orderID, status, "COD-"+o.OrderNumber, map[string]any{
		"channel": "cash_on_delivery",
		"note":    note,
	})
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string  `json:"reference"`
		Amount    int64   `json:"amount"`
		ID        int64   `json:"id"`
		Status    string  `json:"status"`
		Fees      float64 `json:"fees"`
	} `json:"data"`
}

// HandleWebhook ingests an asynchronous provider callback. Callbacks may be
// delivered more than once and out of order; the funnel handles both. An
// event for an unknown order is logged and swallowed so the provider stops
// redelivering it.
func (s *service) HandleWebhook(ctx context.Context, signature string, payload []byte) error {
	if !s.validSignature(signature, payload) {
		return ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: malformed webhook payload", ErrValidation)
	}

	var status order.PaymentStatus
	switch event.Event {
	case "charge.success":
		status = order.PaymentPaid
	case "charge.failed":
		status = order.PaymentFailed
	default:
		log.Info().Str("event", event.Event).Msg("payment: ignoring webhook event type")
		return nil
	}

	o, err := s.orders.GetByPaymentReference(ctx, event.Data.Reference)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			observability.PaymentOutcomesDropped.WithLabelValues("unmatched").Inc()
			log.Warn().Str("reference", event.Data.Reference).Msg("payment: webhook dropped, no matching order")
			return nil
		}
		return fmt.Errorf("payment: failed to match webhook reference: %w", err)
	}

	_, err = s.ApplyOutcome(ctx, o.ID, status, event.Data.Reference, map[string]any{
		"channel":      "webhook",
		"provider_ref": fmt.Sprintf("%d", event.Data.ID),
		"amount":       float64(event.Data.Amount) / 100,
	})
	return err
}

func (s *service) validSignature(signature string, payload []byte) bool {
	if s.webhookSecret == "" {
		return true
	}
	mac := hmac.New(sha512.New, []byte(s.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
