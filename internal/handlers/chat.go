package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
	"chatbot-backend/internal/services"
)

const streamIDHeader = "X-Stream-Id"

type chatService interface {
	SendMessage(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (*services.StartedStream, error)
	FollowStream(ctx context.Context, streamID uuid.UUID, fn func(models.StreamEvent) error) error
	Resume(ctx context.Context, viewerID, chatID uuid.UUID) (*services.ResumeResult, error)
	Stop(ctx context.Context, userID, chatID uuid.UUID) error
	GetChat(ctx context.Context, viewerID, chatID uuid.UUID) (*services.ChatView, error)
	DeleteChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Chat, error)
	SetVisibility(ctx context.Context, userID, chatID uuid.UUID, visibility string) error
	History(ctx context.Context, userID uuid.UUID, limit int, startingAfter, endingBefore *uuid.UUID) (*models.ChatHistoryPage, error)
	DeleteTrailingMessages(ctx context.Context, userID, messageID uuid.UUID) (int64, error)
}

type ChatHandler struct {
	chatService chatService
}

func NewChatHandler(chatService chatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// sseWriter frames events as server-sent events and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter, r *http.Request, streamID string) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if streamID != "" {
		h.Set(streamIDHeader, streamID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(evt models.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

// follow relays a generation until it finishes. The generation keeps running
// if the client goes away.
func (h *ChatHandler) follow(w http.ResponseWriter, r *http.Request, streamID uuid.UUID) {
	sse, ok := startSSE(w, r, streamID.String())
	if !ok {
		return
	}

	err := h.chatService.FollowStream(r.Context(), streamID, sse.event)
	if err != nil {
		if r.Context().Err() == nil {
			log.Warn().Err(err).Str("stream_id", streamID.String()).Msg("stream relay failed")
			sse.event(models.StreamEvent{Type: "error", Error: "Stream interrupted"})
		}
		return
	}
	sse.done()
}

// Send stores the user's message and streams the assistant reply.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	started, err := h.chatService.SendMessage(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.follow(w, r, started.StreamID)
}

// Resume reattaches a reloaded chat view to its running generation.
func (h *ChatHandler) Resume(w http.ResponseWriter, r *http.Request) {
	chatID, ok := uuidParam(w, r, "id", "chat")
	if !ok {
		return
	}

	result, err := h.chatService.Resume(r.Context(), middleware.GetUserID(r.Context()), chatID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if result.StreamID != nil {
		h.follow(w, r, *result.StreamID)
		return
	}

	data, err := json.Marshal(result.Message)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	sse, ok := startSSE(w, r, "")
	if !ok {
		return
	}
	messageID := result.Message.ID
	sse.event(models.StreamEvent{Type: "append-message", MessageID: &messageID, Message: data})
	sse.done()
}

func (h *ChatHandler) Stop(w http.ResponseWriter, r *http.Request) {
	chatID, ok := uuidParam(w, r, "id", "chat")
	if !ok {
		return
	}

	if err := h.chatService.Stop(r.Context(), middleware.GetUserID(r.Context()), chatID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Generation stopped"})
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID, ok := uuidParam(w, r, "id", "chat")
	if !ok {
		return
	}

	view, err := h.chatService.GetChat(r.Context(), middleware.GetUserID(r.Context()), chatID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := uuidParam(w, r, "id", "chat")
	if !ok {
		return
	}

	chat, err := h.chatService.DeleteChat(r.Context(), middleware.GetUserID(r.Context()), chatID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	chatID, ok := uuidParam(w, r, "id", "chat")
	if !ok {
		return
	}
	var req models.VisibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.chatService.SetVisibility(r.Context(), middleware.GetUserID(r.Context()), chatID, req.Visibility); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"visibility": req.Visibility})
}

// History pages through the caller's chats.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "limit must be a positive integer", r))
			return
		}
		limit = n
	}

	startingAfter, ok := optionalUUID(w, r, "starting_after")
	if !ok {
		return
	}
	endingBefore, ok := optionalUUID(w, r, "ending_before")
	if !ok {
		return
	}

	page, err := h.chatService.History(r.Context(), middleware.GetUserID(r.Context()), limit, startingAfter, endingBefore)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if page.Chats == nil {
		page.Chats = []*models.Chat{}
	}
	writeJSON(w, http.StatusOK, page)
}

func optionalUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", name+" must be a chat ID", r))
		return nil, false
	}
	return &id, true
}

// DeleteTrailing drops a message and all that follow it.
func (h *ChatHandler) DeleteTrailing(w http.ResponseWriter, r *http.Request) {
	messageID, ok := uuidParam(w, r, "id", "message")
	if !ok {
		return
	}

	deleted, err := h.chatService.DeleteTrailingMessages(r.Context(), middleware.GetUserID(r.Context()), messageID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
