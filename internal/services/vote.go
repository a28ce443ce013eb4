package services

import (
	"context"

	"github.com/google/uuid"

	"chatbot-backend/internal/models"
)

type VoteService struct {
	chats    chatStore
	messages messageStore
	votes    voteStore
}

func NewVoteService(chats chatStore, messages messageStore, votes voteStore) *VoteService {
	return &VoteService{chats: chats, messages: messages, votes: votes}
}

func (s *VoteService) ownedChat(ctx context.Context, userID, chatID uuid.UUID) error {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return notFound(err, "Chat not found")
	}
	if chat.UserID != userID {
		return &ForbiddenError{Message: "You do not have access to this chat"}
	}
	return nil
}

func (s *VoteService) List(ctx context.Context, userID, chatID uuid.UUID) ([]*models.Vote, error) {
	if err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.votes.ListByChat(ctx, chatID)
}

func (s *VoteService) Vote(ctx context.Context, userID uuid.UUID, req models.VoteRequest) (*models.Vote, error) {
	fieldErrors := make(map[string]string)
	if req.ChatID == uuid.Nil {
		fieldErrors["chat_id"] = "chat_id is required"
	}
	if req.MessageID == uuid.Nil {
		fieldErrors["message_id"] = "message_id is required"
	}
	if req.Type != "up" && req.Type != "down" {
		fieldErrors["type"] = "type must be up or down"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	if err := s.ownedChat(ctx, userID, req.ChatID); err != nil {
		return nil, err
	}
	msg, err := s.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return nil, notFound(err, "Message not found")
	}
	if msg.ChatID != req.ChatID {
		return nil, &NotFoundError{Message: "Message not found"}
	}

	vote := &models.Vote{ChatID: req.ChatID, MessageID: req.MessageID, IsUpvoted: req.Type == "up"}
	if err := s.votes.Upsert(ctx, vote); err != nil {
		return nil, err
	}
	return vote, nil
}
