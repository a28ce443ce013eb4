package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/models"
)

// QuotaWindowHours is the rolling window message quotas are counted over.
const QuotaWindowHours = 24

type messageCounter interface {
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

type userGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type QuotaService struct {
	messages messageCounter
	users    userGetter
	now      func() time.Time
}

func NewQuotaService(messages messageCounter, users userGetter) *QuotaService {
	return &QuotaService{messages: messages, users: users, now: time.Now}
}

// MessageCount returns how many messages the user sent in the last
// differenceInHours hours.
func (s *QuotaService) MessageCount(ctx context.Context, userID uuid.UUID, differenceInHours int) (int, error) {
	since := s.now().Add(-time.Duration(differenceInHours) * time.Hour)
	return s.messages.CountByUserSince(ctx, userID, since)
}

// Snapshot reports the user's allowance. A failed count is logged and
// reported as zero used; enforcement happens separately at insert time.
func (s *QuotaService) Snapshot(ctx context.Context, userID uuid.UUID) (models.QuotaSnapshot, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.QuotaSnapshot{}, notFound(err, "User not found")
	}
	return s.snapshotFor(ctx, user), nil
}

func (s *QuotaService) snapshotFor(ctx context.Context, user *models.User) models.QuotaSnapshot {
	userType := user.EffectiveType(s.now())
	ent := ai.EntitlementsFor(ai.UserType(userType))

	used, err := s.MessageCount(ctx, user.ID, QuotaWindowHours)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to get message count")
		used = 0
	}
	return buildSnapshot(userType, ent.MaxMessagesPerDay, used)
}

func buildSnapshot(userType string, limit, used int) models.QuotaSnapshot {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaSnapshot{
		UserType:          userType,
		MaxMessagesPerDay: limit,
		Used:              used,
		Remaining:         remaining,
		WindowHours:       QuotaWindowHours,
	}
}
