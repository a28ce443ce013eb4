package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-backend/internal/models"
)

// ErrQuotaExceeded is returned when the user already sent their allowance
// of messages within the quota window.
var ErrQuotaExceeded = errors.New("message quota exceeded")

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

const countUserMessagesSQL = `
	SELECT COUNT(*)
	FROM messages m
	JOIN chats c ON c.id = m.chat_id
	WHERE c.user_id = $1 AND m.role = 'user' AND m.created_at >= $2`

// CountByUserSince counts the user-role messages a user sent across all
// their chats since the given time.
func (r *MessageRepo) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countUserMessagesSQL, userID, since).Scan(&n)
	return n, err
}

// CreateUserMessageWithinQuota inserts msg (and newChat, when non-nil) only if
// the user has sent fewer than limit messages since the given time. The
// check and insert run under a per-user advisory lock so concurrent sends
// serialize. It returns the number of messages used including this one.
func (r *MessageRepo) CreateUserMessageWithinQuota(ctx context.Context, userID uuid.UUID, newChat *models.Chat, msg *models.Message, limit int, since time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID.String()); err != nil {
		return 0, fmt.Errorf("failed to take quota lock: %w", err)
	}

	var used int
	if err := tx.QueryRow(ctx, countUserMessagesSQL, userID, since).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	if used >= limit {
		return used, ErrQuotaExceeded
	}

	if newChat != nil {
		err := tx.QueryRow(ctx,
			`INSERT INTO chats (id, user_id, title, visibility) VALUES ($1, $2, $3, $4) RETURNING created_at`,
			newChat.ID, newChat.UserID, newChat.Title, newChat.Visibility,
		).Scan(&newChat.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to create chat: %w", err)
		}
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return used + 1, nil
}

func (r *MessageRepo) Create(ctx context.Context, msg *models.Message) error {
	return insertMessage(ctx, r.pool, msg)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMessage(ctx context.Context, q queryRower, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Parts == nil {
		msg.Parts = []models.MessagePart{}
	}
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}
	partsBytes, err := json.Marshal(msg.Parts)
	if err != nil {
		return err
	}
	attBytes, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx,
		`INSERT INTO messages (id, chat_id, role, parts, attachments, token_count)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		msg.ID, msg.ChatID, msg.Role, partsBytes, attBytes, msg.TokenCount,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, role, parts, attachments, token_count, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	m := &models.Message{}
	var parts, atts []byte
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &parts, &atts, &m.TokenCount, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parts, &m.Parts); err != nil {
		return nil, fmt.Errorf("message %s parts: %w", m.ID, err)
	}
	if err := json.Unmarshal(atts, &m.Attachments); err != nil {
		return nil, fmt.Errorf("message %s attachments: %w", m.ID, err)
	}
	return m, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

// ListByChat returns the chat's messages oldest first.
func (r *MessageRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteTrailing deletes every message of the chat created at or after ts.
func (r *MessageRepo) DeleteTrailing(ctx context.Context, chatID uuid.UUID, ts time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE chat_id = $1 AND created_at >= $2`, chatID, ts)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
