package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chatbot-backend/internal/handlers"
	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/websocket"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Auth    *handlers.AuthHandler
	Page    *handlers.PageHandler
	Quota   *handlers.QuotaHandler
	Chat    *handlers.ChatHandler
	Vote    *handlers.VoteHandler
	Files   *handlers.FileHandler
	Payment *handlers.PaymentHandler
}

// New builds the HTTP handler and returns it with the auth rate limiter,
// which the caller stops on shutdown.
func New(jwtAuth *middleware.JWTAuth, h Handlers, wsHub *websocket.Hub, frontendURL string) (http.Handler, *middleware.RateLimiter) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.CORS(frontendURL))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {

		// ──── Auth Routes ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/guest", h.Auth.Guest)
			r.Post("/login", h.Auth.Login)
			r.Post("/refresh", h.Auth.Refresh)
			r.Post("/logout", h.Auth.Logout)

			// A guest token, when present, is upgraded in place
			r.With(jwtAuth.Optional).Post("/register", h.Auth.Register)

			r.With(jwtAuth.Middleware).Get("/session", h.Auth.Session)
		})

		// ──── Page & Models ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/page", h.Page.Page)
			r.Get("/models", h.Page.Models)
			r.Post("/models/selection", h.Page.SelectModel)
			r.Get("/quota", h.Quota.Get)
		})
		r.Get("/suggestions", h.Page.Suggestions)

		// ──── Chat Routes ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/chat", h.Chat.Send)
			r.Get("/chat/{id}/stream", h.Chat.Resume)
			r.Post("/chat/{id}/stop", h.Chat.Stop)

			r.Get("/chats/{id}", h.Chat.Get)
			r.Delete("/chats/{id}", h.Chat.Delete)
			r.Patch("/chats/{id}/visibility", h.Chat.SetVisibility)

			r.Get("/history", h.Chat.History)
			r.Delete("/messages/{id}/trailing", h.Chat.DeleteTrailing)

			r.Get("/vote", h.Vote.List)
			r.Patch("/vote", h.Vote.Vote)

			r.Post("/files/upload", h.Files.Upload)
		})

		// ──── Payment Routes ────
		r.Route("/paypal", func(r chi.Router) {
			r.Get("/", h.Payment.Info)
			r.Get("/config", h.Payment.Config)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/", h.Payment.Capture)
				r.Get("/payments", h.Payment.History)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	// ──── Stored uploads ────
	r.With(jwtAuth.Middleware).Get("/files/*", h.Files.Serve)

	return r, authLimiter
}
