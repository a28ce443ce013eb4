package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

type VoteRepo struct {
	pool *pgxpool.Pool
}

func NewVoteRepo(pool *pgxpool.Pool) *VoteRepo {
	return &VoteRepo{pool: pool}
}

func (r *VoteRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Vote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id, message_id, is_upvoted FROM votes WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := make([]*models.Vote, 0)
	for rows.Next() {
		v := &models.Vote{}
		if err := rows.Scan(&v.ChatID, &v.MessageID, &v.IsUpvoted); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// Upsert records the vote, replacing any earlier vote on the same message.
func (r *VoteRepo) Upsert(ctx context.Context, v *models.Vote) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO votes (chat_id, message_id, is_upvoted)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET is_upvoted = EXCLUDED.is_upvoted
	`, v.ChatID, v.MessageID, v.IsUpvoted)
	return err
}
