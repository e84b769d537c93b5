package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "product_not_found", err: product.ErrProductNotFound, want: http.StatusNotFound},
		{name: "cart_not_found", err: cart.ErrCartNotFound, want: http.StatusNotFound},
		{name: "item_not_found", err: cart.ErrItemNotFound, want: http.StatusNotFound},
		{name: "order_not_found", err: order.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "validation", err: fmt.Errorf("%w: name is required", product.ErrValidation), want: http.StatusBadRequest},
		{name: "invalid_transition", err: order.ErrInvalidStatusTransition, want: http.StatusBadRequest},
		{name: "not_cancellable", err: order.ErrOrderNotCancellable, want: http.StatusBadRequest},
		{name: "already_cancelled", err: order.ErrOrderAlreadyCancelled, want: http.StatusBadRequest},
		{
			name: "insufficient_stock",
			err:  &product.InsufficientStockError{ProductID: uuid.Must(uuid.NewV4()), Requested: 3, Available: 1},
			want: http.StatusConflict,
		},
		{name: "duplicate_sku", err: product.ErrSKUExists, want: http.StatusConflict},
		{name: "state_conflict", err: order.ErrStateConflict, want: http.StatusConflict},
		{name: "not_owner", err: order.ErrNotOrderOwner, want: http.StatusForbidden},
		{name: "bad_signature", err: payment.ErrInvalidSignature, want: http.StatusUnauthorized},
		{name: "provider_down", err: fmt.Errorf("%w: timeout", payment.ErrProviderFailure), want: http.StatusBadGateway},
		{name: "unknown", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToStatusCode(tt.err))
		})
	}
}

func TestRespondWithServiceError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithServiceError(rec, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRespondWithJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithJSON(rec, http.StatusCreated, map[string]int{"count": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":3}`, rec.Body.String())
}

func TestUserIDFromRequest(t *testing.T) {
	id := uuid.Must(uuid.NewV4())

	r := httptest.NewRequest(http.MethodGet, "/cart", nil)
	r.Header.Set("X-User-ID", id.String())
	got, err := userIDFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r = httptest.NewRequest(http.MethodGet, "/cart", nil)
	_, err = userIDFromRequest(r)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/cart", nil)
	r.Header.Set("X-User-ID", "not-a-uuid")
	_, err = userIDFromRequest(r)
	assert.Error(t, err)
}
