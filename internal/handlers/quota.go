package handlers

import (
	"net/http"

	"chatbot-backend/internal/middleware"
)

type QuotaHandler struct {
	quota quotaReader
}

func NewQuotaHandler(quota quotaReader) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.quota.Snapshot(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
