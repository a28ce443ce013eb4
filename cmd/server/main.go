package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/config"
	"chatbot-backend/internal/database"
	"chatbot-backend/internal/handlers"
	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
	"chatbot-backend/internal/router"
	"chatbot-backend/internal/services"
	"chatbot-backend/internal/websocket"
	"chatbot-backend/internal/worker"
)

const (
	workerCount     = 5
	shutdownTimeout = 30 * time.Second
	generationGrace = 10 * time.Second
)

func main() {
	root := &cobra.Command{
		Use:           "chatbot",
		Short:         "Chatbot backend: chat streaming, quotas and premium memberships",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run migrations and start the HTTP server, workers and scheduler",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "check-env",
			Short: "Report required environment variables that are not set",
			RunE: func(cmd *cobra.Command, args []string) error {
				return checkEnv(cmd)
			},
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && l != zerolog.NoLevel {
		zerolog.SetGlobalLevel(l)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func checkEnv(cmd *cobra.Command) error {
	missing := config.MissingVars()
	if len(missing) == 0 {
		cmd.Println("✓ All required environment variables are set")
		return nil
	}
	cmd.Println("✗ The following required environment variables are not set:")
	for _, key := range missing {
		cmd.Printf("  - %s\n", key)
	}
	return fmt.Errorf("%d required environment variable(s) missing", len(missing))
}

func migrate(ctx context.Context) error {
	cfg := config.Load()
	setupLogging(cfg)

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}
	defer pool.Close()

	applied, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info().Int("applied", applied).Msg("database migrations applied")
	return nil
}

func serve(ctx context.Context) error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	setupLogging(cfg)
	log.Info().Str("env", cfg.Env).Msg("starting chatbot backend")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("postgres connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL, cfg.RedisStreamPoolSize)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	// ──── Step 4: Run Database Migrations ────
	applied, err := database.RunMigrations(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info().Int("applied", applied).Msg("database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	chatRepo := repository.NewChatRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	voteRepo := repository.NewVoteRepo(pool)
	streamRepo := repository.NewStreamRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Step 5: Initialize AI Models ────
	registry, err := ai.NewRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}
	defer registry.Close()
	log.Info().Str("provider", cfg.AIProvider).Bool("mock", cfg.IsTest()).Msg("ai models ready")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	publisher := services.NewRedisPublisher(redisClients.PubSub)
	jobQueue := services.NewRedisJobQueue(jobRepo, redisClients.Queue)
	streamLog := services.NewRedisStreamLog(redisClients.PubSub, redisClients.Streams)
	attachmentService := services.NewAttachmentService(cfg.StoragePath)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	authService := services.NewAuthService(userRepo, redisClients.PubSub, jwtAuth)
	quotaService := services.NewQuotaService(messageRepo, userRepo)
	voteService := services.NewVoteService(chatRepo, messageRepo, voteRepo)
	chatService := services.NewChatService(services.ChatDeps{
		Users:            userRepo,
		Chats:            chatRepo,
		Messages:         messageRepo,
		Streams:          streamRepo,
		Votes:            voteRepo,
		Models:           registry,
		StreamLog:        streamLog,
		Publisher:        publisher,
		Jobs:             jobQueue,
		Attachments:      attachmentService,
		MaxContextTokens: cfg.MaxContextTokens,
	})
	paypalClient := services.NewPayPalClient(cfg.PayPalAPIURL, cfg.PayPalClientID, cfg.PayPalClientSecret, redisClients.PubSub)
	paymentService := services.NewPaymentService(paypalClient, paymentRepo, userRepo, jobQueue, publisher, services.PaymentConfig{
		ClientID: cfg.PayPalClientID,
		Price:    cfg.PremiumPrice,
		Currency: cfg.PremiumCurrency,
		Duration: cfg.PremiumDuration,
	})

	// ──── Step 6: Start Job Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, jobRepo, workerCount)
	workerPool.Handle(models.JobTypeTitleGeneration, chatService.GenerateTitle)
	workerPool.Handle(models.JobTypeEmail, emailService.Process)
	workerPool.Start()

	membershipScheduler := services.NewMembershipScheduler(userRepo, jobQueue, publisher)
	membershipScheduler.Start()
	log.Info().Msg("membership scheduler started")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL)

	// ──── Step 8: Start HTTP Server ────
	handler, authLimiter := router.New(jwtAuth, router.Handlers{
		Auth:    handlers.NewAuthHandler(authService),
		Page:    handlers.NewPageHandler(authService, quotaService, !cfg.IsDevelopment()),
		Quota:   handlers.NewQuotaHandler(quotaService),
		Chat:    handlers.NewChatHandler(chatService),
		Vote:    handlers.NewVoteHandler(voteService),
		Files:   handlers.NewFileHandler(attachmentService),
		Payment: handlers.NewPaymentHandler(paymentService),
	}, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: chat responses stream for as long as the model talks
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("chatbot backend ready")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	wsHub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown incomplete")
	}
	authLimiter.Stop()
	waitForGenerations(shutdownCtx, chatService)
	workerPool.Stop()
	membershipScheduler.Stop()

	log.Info().Msg("shutdown complete")
	return nil
}

// waitForGenerations lets detached replies finish saving before the stores
// close. Replies still running at the deadline are cancelled and given a
// short grace period to record how they ended.
func waitForGenerations(ctx context.Context, chatService *services.ChatService) {
	if pollGenerations(ctx, chatService) {
		return
	}
	log.Warn().Int64("active", chatService.ActiveGenerations()).Msg("cancelling unfinished generations")
	chatService.CancelGenerations()

	graceCtx, cancel := context.WithTimeout(context.Background(), generationGrace)
	defer cancel()
	if !pollGenerations(graceCtx, chatService) {
		log.Warn().Int64("active", chatService.ActiveGenerations()).Msg("abandoning unfinished generations")
	}
}

func pollGenerations(ctx context.Context, chatService *services.ChatService) bool {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for chatService.ActiveGenerations() > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}
