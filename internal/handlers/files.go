package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/services"
)

// multipart framing on top of the file itself
const uploadOverhead = 1 << 20

type attachmentStore interface {
	Save(ctx context.Context, userID uuid.UUID, filename string, data []byte) (*services.UploadResult, error)
	OwnedPath(userID uuid.UUID, rel string) (string, error)
}

type FileHandler struct {
	attachments attachmentStore
}

func NewFileHandler(attachments attachmentStore) *FileHandler {
	return &FileHandler{attachments: attachments}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > services.MaxUploadSize+uploadOverhead {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File size should be less than 5MB", r))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadSize+uploadOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file uploaded", r))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, services.MaxUploadSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Failed to read upload", r))
		return
	}

	result, err := h.attachments.Save(r.Context(), middleware.GetUserID(r.Context()), header.Filename, data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Serve streams a stored upload back to its owner.
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	full, err := h.attachments.OwnedPath(middleware.GetUserID(r.Context()), chi.URLParam(r, "*"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, full)
}
