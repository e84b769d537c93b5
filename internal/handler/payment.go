package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
)

// PaymentHandler exposes the three payment entry points plus the manual
// payment-status update. All of them funnel into payment reconciliation.
type PaymentHandler struct {
	svc payment.Service
}

func NewPaymentHandler(svc payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID uuid.UUID `json:"order_id"`
		Email   string    `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.Initialize(r.Context(), req.OrderID, req.Email)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	o, err := h.svc.Verify(r.Context(), reference)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *PaymentHandler) ConfirmCashOnDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "orderID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req struct {
		Collected bool   `json:"collected"`
		Note      string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.ConfirmCashOnDelivery(r.Context(), orderID, req.Collected, req.Note)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

// UpdatePaymentStatus is the admin override; it goes through the same
// idempotent funnel as provider outcomes.
func (h *PaymentHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req struct {
		Status    order.PaymentStatus `json:"status"`
		Reference string              `json:"reference"`
		Note      string              `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reference == "" {
		req.Reference = "MANUAL-" + orderID.String()
	}

	o, err := h.svc.ApplyOutcome(r.Context(), orderID, req.Status, req.Reference, map[string]any{
		"channel": "manual",
		"note":    req.Note,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	err = h.svc.HandleWebhook(r.Context(), r.Header.Get("X-Paystack-Signature"), payload)
	if err != nil {
		log.Warn().Err(err).Msg("handler: webhook rejected")
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
