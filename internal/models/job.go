package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeTitleGeneration = "title-generation"
	JobTypeEmail           = "email"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is a unit of background work. The row in the jobs table is the
// record; the Redis list only carries its id-bearing payload.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         string          `json:"type"`
	ReferenceID  uuid.UUID       `json:"reference_id"`
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type TitleJobConfig struct {
	Message string `json:"message"`
}

const (
	EmailKindPremiumReceipt = "premium_receipt"
	EmailKindPremiumExpired = "premium_expired"
)

type EmailJobConfig struct {
	Kind         string     `json:"kind"`
	To           string     `json:"to"`
	Amount       string     `json:"amount,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	OrderID      string     `json:"order_id,omitempty"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type QuotaSnapshot struct {
	UserType          string `json:"user_type"`
	MaxMessagesPerDay int    `json:"max_messages_per_day"`
	Used              int    `json:"used"`
	Remaining         int    `json:"remaining"`
	WindowHours       int    `json:"window_hours"`
}

type ChatTitleEvent struct {
	ChatID uuid.UUID `json:"chat_id"`
	Title  string    `json:"title"`
}

type MembershipEvent struct {
	UserType     string     `json:"user_type"`
	PremiumUntil *time.Time `json:"premium_until"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
