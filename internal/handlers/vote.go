package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
)

type voteService interface {
	List(ctx context.Context, userID, chatID uuid.UUID) ([]*models.Vote, error)
	Vote(ctx context.Context, userID uuid.UUID, req models.VoteRequest) (*models.Vote, error)
}

type VoteHandler struct {
	voteService voteService
}

func NewVoteHandler(voteService voteService) *VoteHandler {
	return &VoteHandler{voteService: voteService}
}

func (h *VoteHandler) List(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(r.URL.Query().Get("chatId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "chatId is required", r))
		return
	}

	votes, err := h.voteService.List(r.Context(), middleware.GetUserID(r.Context()), chatID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if votes == nil {
		votes = []*models.Vote{}
	}
	writeJSON(w, http.StatusOK, votes)
}

func (h *VoteHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req models.VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	vote, err := h.voteService.Vote(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vote)
}
