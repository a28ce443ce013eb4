package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/models"
)

const captureCompleted = "COMPLETED"

type paymentStore interface {
	Create(ctx context.Context, p *models.PayPalPayment) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PayPalPayment, error)
}

type premiumStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ExtendPremium(ctx context.Context, userID uuid.UUID, d time.Duration) (time.Time, error)
}

type PaymentConfig struct {
	ClientID string
	Price    string
	Currency string
	Duration time.Duration
}

type PaymentService struct {
	gateway   PaymentGateway
	payments  paymentStore
	users     premiumStore
	jobs      JobQueue
	publisher Publisher
	cfg       PaymentConfig
}

func NewPaymentService(gateway PaymentGateway, payments paymentStore, users premiumStore, jobs JobQueue, publisher Publisher, cfg PaymentConfig) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		payments:  payments,
		users:     users,
		jobs:      jobs,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CheckoutConfig is what the client needs to render the PayPal button.
func (s *PaymentService) CheckoutConfig() models.CheckoutConfig {
	days := int(s.cfg.Duration / (24 * time.Hour))
	return models.CheckoutConfig{
		ClientID:     s.cfg.ClientID,
		Currency:     s.cfg.Currency,
		Amount:       s.cfg.Price,
		Description:  fmt.Sprintf("Premium membership (%d days)", days),
		DurationDays: days,
	}
}

// Capture settles an approved order and upgrades the payer to premium.
func (s *PaymentService) Capture(ctx context.Context, userID uuid.UUID, data models.PaymentData) (*models.PaymentResult, error) {
	if strings.TrimSpace(data.Name) == "" || strings.TrimSpace(data.Email) == "" ||
		strings.TrimSpace(data.Amount) == "" || strings.TrimSpace(data.OrderID) == "" {
		return nil, &ValidationError{Message: "Missing required fields"}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "User not found")
	}
	// Guests have no password, so a membership would outlive their access.
	if user.Type == models.UserTypeGuest {
		return nil, &ForbiddenError{Message: "Please register an account before upgrading to premium"}
	}

	logger := log.With().Str("user_id", userID.String()).Str("order_id", data.OrderID).Logger()
	logger.Info().Str("amount", data.Amount).Msg("payment capture requested")

	capture, err := s.gateway.CaptureOrder(ctx, data.OrderID)
	if err != nil {
		s.record(ctx, userID, data, nil)
		return nil, fmt.Errorf("capture order %s: %w", data.OrderID, err)
	}

	if err := s.record(ctx, userID, data, capture); err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{Message: "Order has already been processed"}
		}
		return nil, err
	}

	if capture.Status != captureCompleted {
		logger.Warn().Str("capture_status", capture.Status).Msg("invalid capture status")
		return nil, &PaymentError{
			Status:  capture.Status,
			Message: fmt.Sprintf("Payment capture failed with status: %s", capture.Status),
		}
	}

	value, currency, ok := capture.CapturedAmount()
	if !ok {
		logger.Error().Msg("capture response carries no captured amount")
		return nil, &PaymentError{
			Status:  capture.Status,
			Message: "Captured amount could not be verified",
		}
	}
	if !sameAmount(value, s.cfg.Price) || !strings.EqualFold(currency, s.cfg.Currency) {
		logger.Error().Str("captured", value+" "+currency).Msg("captured amount does not match premium price")
		return nil, &PaymentError{
			Status:  capture.Status,
			Message: fmt.Sprintf("Captured amount %s %s does not match the premium price", value, currency),
		}
	}

	until, err := s.users.ExtendPremium(ctx, userID, s.cfg.Duration)
	if err != nil {
		return nil, fmt.Errorf("upgrade user to premium: %w", err)
	}
	logger.Info().Time("premium_until", until).Msg("user upgraded to premium")

	s.enqueueReceipt(ctx, userID, data, until)
	s.publisher.Publish(ctx, userID, models.WSMessage{
		Type: "membership_update",
		Payload: models.MembershipEvent{
			UserType:     models.UserTypePremium,
			PremiumUntil: &until,
		},
	})

	return &models.PaymentResult{
		Name:          data.Name,
		Email:         data.Email,
		Amount:        data.Amount,
		OrderID:       data.OrderID,
		CaptureID:     capture.CaptureID(),
		CaptureStatus: capture.Status,
	}, nil
}

// History lists the user's capture attempts, newest first.
func (s *PaymentService) History(ctx context.Context, userID uuid.UUID) ([]*models.PayPalPayment, error) {
	return s.payments.ListByUser(ctx, userID)
}

func (s *PaymentService) record(ctx context.Context, userID uuid.UUID, data models.PaymentData, capture *PayPalCapture) error {
	p := &models.PayPalPayment{
		UserID:     userID,
		OrderID:    data.OrderID,
		PayerName:  data.Name,
		PayerEmail: data.Email,
		Amount:     data.Amount,
	}
	if capture != nil {
		id, status := capture.CaptureID(), capture.Status
		p.CaptureID = &id
		p.CaptureStatus = &status
		if _, currency, ok := capture.CapturedAmount(); ok {
			p.Currency = &currency
		}
		p.RawResponse = capture.Raw
	}

	if err := s.payments.Create(ctx, p); err != nil {
		log.Error().Err(err).Str("order_id", data.OrderID).Msg("failed to log payment")
		return err
	}
	return nil
}

func (s *PaymentService) enqueueReceipt(ctx context.Context, userID uuid.UUID, data models.PaymentData, until time.Time) {
	cfg, err := json.Marshal(models.EmailJobConfig{
		Kind:         models.EmailKindPremiumReceipt,
		To:           data.Email,
		Amount:       s.cfg.Price,
		Currency:     s.cfg.Currency,
		OrderID:      data.OrderID,
		PremiumUntil: &until,
	})
	if err != nil {
		return
	}
	job := &models.Job{
		UserID:      userID,
		Type:        models.JobTypeEmail,
		ReferenceID: userID,
		ConfigJSON:  cfg,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to enqueue receipt email")
	}
}

func sameAmount(a, b string) bool {
	x, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err1 != nil || err2 != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return math.Abs(x-y) < 0.005
}
