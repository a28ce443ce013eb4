package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
)

type paymentService interface {
	CheckoutConfig() models.CheckoutConfig
	Capture(ctx context.Context, userID uuid.UUID, data models.PaymentData) (*models.PaymentResult, error)
	History(ctx context.Context, userID uuid.UUID) ([]*models.PayPalPayment, error)
}

type PaymentHandler struct {
	paymentService paymentService
}

func NewPaymentHandler(paymentService paymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment API endpoint"})
}

// Config returns what the checkout button needs to create an order.
func (h *PaymentHandler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.paymentService.CheckoutConfig())
}

// Capture settles an approved PayPal order and upgrades the caller.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var data models.PaymentData
	if !decodeJSON(w, r, &data) {
		return
	}

	result, err := h.paymentService.Capture(r.Context(), middleware.GetUserID(r.Context()), data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Payment captured successfully",
		"data":    result,
	})
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	payments, err := h.paymentService.History(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.PayPalPayment{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}
