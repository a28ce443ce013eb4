package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
)

const (
	chatModelCookie    = "chat-model"
	chatModelCookieAge = 365 * 24 * time.Hour
)

type sessionReader interface {
	Session(ctx context.Context, userID uuid.UUID) (*models.SessionUser, error)
}

type quotaReader interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (models.QuotaSnapshot, error)
}

type Suggestion struct {
	Title  string `json:"title"`
	Label  string `json:"label"`
	Action string `json:"action"`
}

var suggestions = []Suggestion{
	{
		Title:  "What is the score",
		Label:  "Manchester United and Athletic Club?",
		Action: "What is the score of the latest match between Manchester United - Athletic Club?",
	},
	{
		Title:  "What is the current price",
		Label:  "for the NASDAQ Composite Index",
		Action: "What is the current NASDAQ price?",
	},
	{
		Title:  "Help me write an essay",
		Label:  "about silicon valley",
		Action: "Help me write an essay about silicon valley",
	},
	{
		Title:  "What is the weather",
		Label:  "in Barcelona?",
		Action: "What is the weather in Barcelona?",
	},
}

// PageState is everything the chat page needs to render a new conversation.
type PageState struct {
	ID                    uuid.UUID            `json:"id"`
	InitialChatModel      string               `json:"initial_chat_model"`
	InitialVisibilityType string               `json:"initial_visibility_type"`
	IsReadonly            bool                 `json:"is_readonly"`
	AutoResume            bool                 `json:"auto_resume"`
	Session               *models.SessionUser  `json:"session"`
	Quota                 models.QuotaSnapshot `json:"quota"`
	ShowPaymentModal      bool                 `json:"show_payment_modal"`
}

type PageHandler struct {
	sessions sessionReader
	quota    quotaReader
	secure   bool
}

func NewPageHandler(sessions sessionReader, quota quotaReader, secureCookies bool) *PageHandler {
	return &PageHandler{sessions: sessions, quota: quota, secure: secureCookies}
}

func (h *PageHandler) Page(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var (
		session *models.SessionUser
		quota   models.QuotaSnapshot
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		session, err = h.sessions.Session(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		quota, err = h.quota.Snapshot(ctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	ent := ai.EntitlementsFor(ai.UserType(session.Type))
	model := ai.DefaultChatModel
	if c, err := r.Cookie(chatModelCookie); err == nil && ai.IsChatModel(c.Value) && ent.AllowsModel(c.Value) {
		model = c.Value
	}

	_, show := r.URL.Query()["show"]

	writeJSON(w, http.StatusOK, PageState{
		ID:                    uuid.New(),
		InitialChatModel:      model,
		InitialVisibilityType: models.VisibilityPrivate,
		Session:               session,
		Quota:                 quota,
		ShowPaymentModal:      show && session.Type == models.UserTypeRegular,
	})
}

// Models lists the chat models the caller may pick.
func (h *PageHandler) Models(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Session(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	ent := ai.EntitlementsFor(ai.UserType(session.Type))
	available := make([]ai.ChatModelInfo, 0)
	for _, m := range ai.ChatModels() {
		if ent.AllowsModel(m.ID) {
			available = append(available, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":  available,
		"default": ai.DefaultChatModel,
	})
}

// SelectModel remembers the caller's model choice in a cookie.
func (h *PageHandler) SelectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.sessions.Session(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !ai.IsChatModel(req.Model) {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Unknown chat model",
			map[string]string{"model": "Unknown chat model"}, r))
		return
	}
	if !ai.EntitlementsFor(ai.UserType(session.Type)).AllowsModel(req.Model) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Model not available for your account", r))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     chatModelCookie,
		Value:    req.Model,
		Path:     "/",
		MaxAge:   int(chatModelCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"model": req.Model})
}

func (h *PageHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}
