package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, visibility, created_at FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListByUser pages through a user's chats newest first. At most one of
// startingAfter and endingBefore may be set; the cursor must name one of
// the user's chats or pgx.ErrNoRows is returned.
func (r *ChatRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int, startingAfter, endingBefore *uuid.UUID) ([]*models.Chat, bool, error) {
	args := []interface{}{userID, limit + 1}
	where := "WHERE user_id = $1"

	cursor := startingAfter
	op := "<"
	if endingBefore != nil {
		cursor = endingBefore
		op = ">"
	}
	if cursor != nil {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1 AND user_id = $2)`, *cursor, userID,
		).Scan(&exists); err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, pgx.ErrNoRows
		}
		where += fmt.Sprintf(" AND created_at %s (SELECT created_at FROM chats WHERE id = $3)", op)
		args = append(args, *cursor)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, visibility, created_at FROM chats `+where+
			` ORDER BY created_at DESC LIMIT $2`, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	chats := make([]*models.Chat, 0, limit)
	for rows.Next() {
		c := &models.Chat{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt); err != nil {
			return nil, false, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(chats) > limit
	if hasMore {
		chats = chats[:limit]
	}
	return chats, hasMore, nil
}

func (r *ChatRepo) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx, "UPDATE chats SET title = $1 WHERE id = $2", title, id)
	return err
}

func (r *ChatRepo) UpdateVisibility(ctx context.Context, id uuid.UUID, visibility string) error {
	tag, err := r.pool.Exec(ctx, "UPDATE chats SET visibility = $1 WHERE id = $2", visibility, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes the chat; messages, votes and streams go with it.
func (r *ChatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM chats WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
