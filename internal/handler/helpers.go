package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, product.ErrValidation),
		errors.Is(err, cart.ErrValidation),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, payment.ErrValidation),
		errors.Is(err, product.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrOrderNotCancellable),
		errors.Is(err, order.ErrOrderAlreadyCancelled):
		return http.StatusBadRequest
	case errors.Is(err, product.ErrInsufficientStock),
		errors.Is(err, product.ErrSKUExists),
		errors.Is(err, order.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrProviderFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondWithServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("handler: internal error")
		respondWithError(w, code, "internal server error")
		return
	}
	respondWithError(w, code, err.Error())
}

// userIDFromRequest reads the authenticated user id supplied by the identity
// layer in front of this service.
func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return uuid.Nil, errors.New("missing X-User-ID header")
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid X-User-ID header")
	}
	return id, nil
}
