package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

type StreamRepo struct {
	pool *pgxpool.Pool
}

func NewStreamRepo(pool *pgxpool.Pool) *StreamRepo {
	return &StreamRepo{pool: pool}
}

func (r *StreamRepo) Create(ctx context.Context, s *models.Stream) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO streams (id, chat_id) VALUES ($1, $2) RETURNING created_at`,
		s.ID, s.ChatID,
	).Scan(&s.CreatedAt)
}

// LatestByChat returns the most recently started stream of the chat.
func (r *StreamRepo) LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Stream, error) {
	s := &models.Stream{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, created_at FROM streams WHERE chat_id = $1 ORDER BY created_at DESC LIMIT 1`,
		chatID,
	).Scan(&s.ID, &s.ChatID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
