package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentData is what the checkout button posts after PayPal approval.
type PaymentData struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Amount  string `json:"amount"`
	OrderID string `json:"orderID"`
}

type PayPalPayment struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	OrderID       string          `json:"order_id"`
	CaptureID     *string         `json:"capture_id"`
	CaptureStatus *string         `json:"capture_status"`
	PayerName     string          `json:"payer_name"`
	PayerEmail    string          `json:"payer_email"`
	Amount        string          `json:"amount"`
	Currency      *string         `json:"currency"`
	RawResponse   json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PaymentResult struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Amount        string `json:"amount"`
	OrderID       string `json:"orderID"`
	CaptureID     string `json:"captureID"`
	CaptureStatus string `json:"captureStatus"`
}

type CheckoutConfig struct {
	ClientID     string `json:"client_id"`
	Currency     string `json:"currency"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
	DurationDays int    `json:"duration_days"`
}
