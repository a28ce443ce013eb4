package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create logs one capture attempt, successful or not.
func (r *PaymentRepo) Create(ctx context.Context, p *models.PayPalPayment) error {
	p.ID = uuid.New()
	raw := []byte(p.RawResponse)
	if len(raw) == 0 {
		raw = nil
	}

	query := `INSERT INTO paypal_payments
		(id, user_id, order_id, capture_id, capture_status, payer_name, payer_email, amount, currency, raw_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		p.ID, p.UserID, p.OrderID, p.CaptureID, p.CaptureStatus,
		p.PayerName, p.PayerEmail, p.Amount, p.Currency, raw,
	).Scan(&p.CreatedAt)
}

func (r *PaymentRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PayPalPayment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, order_id, capture_id, capture_status, payer_name, payer_email, amount, currency, created_at
		FROM paypal_payments WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*models.PayPalPayment, 0)
	for rows.Next() {
		p := &models.PayPalPayment{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.OrderID, &p.CaptureID, &p.CaptureStatus,
			&p.PayerName, &p.PayerEmail, &p.Amount, &p.Currency, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
