package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

const (
	maxMessageLength     = 2000
	generationTimeout    = 5 * time.Minute
	appendTimeout        = 5 * time.Second
	finalizeTimeout      = 10 * time.Second
	cancelPollInterval   = 500 * time.Millisecond
	resumeRecentMessage  = 15 * time.Second
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 50
	maxTitleLength       = 80
	defaultNewChatTitle  = "New Chat"
	finishReasonStop     = "stop"
	finishReasonStopped  = "stopped"
	finishReasonError    = "error"
	generationErrMessage = "An error occurred while generating the response. Please try again."
)

type chatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int, startingAfter, endingBefore *uuid.UUID) ([]*models.Chat, bool, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateVisibility(ctx context.Context, id uuid.UUID, visibility string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type messageStore interface {
	messageCounter
	CreateUserMessageWithinQuota(ctx context.Context, userID uuid.UUID, newChat *models.Chat, msg *models.Message, limit int, since time.Time) (int, error)
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error)
	DeleteTrailing(ctx context.Context, chatID uuid.UUID, ts time.Time) (int64, error)
}

type streamStore interface {
	Create(ctx context.Context, s *models.Stream) error
	LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Stream, error)
}

type voteStore interface {
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Vote, error)
	Upsert(ctx context.Context, v *models.Vote) error
}

// ChatDeps bundles the collaborators of ChatService.
type ChatDeps struct {
	Users            userGetter
	Chats            chatStore
	Messages         messageStore
	Streams          streamStore
	Votes            voteStore
	Models           *ai.Registry
	StreamLog        StreamLog
	Publisher        Publisher
	Jobs             JobQueue
	Attachments      *AttachmentService
	Tokens           *TokenCounter
	MaxContextTokens int
}

type ChatService struct {
	ChatDeps
	quota      *QuotaService
	now        func() time.Time
	baseCtx    context.Context
	cancelBase context.CancelFunc
	// detached generations still running
	active atomic.Int64
}

func NewChatService(deps ChatDeps) *ChatService {
	if deps.Tokens == nil {
		deps.Tokens = NewTokenCounter()
	}
	if deps.MaxContextTokens <= 0 {
		deps.MaxContextTokens = 12000
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	return &ChatService{
		ChatDeps:   deps,
		quota:      NewQuotaService(deps.Messages, deps.Users),
		now:        time.Now,
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
	}
}

// StartedStream identifies a generation that is running in the background.
type StartedStream struct {
	ChatID    uuid.UUID            `json:"chat_id"`
	StreamID  uuid.UUID            `json:"stream_id"`
	MessageID uuid.UUID            `json:"message_id"`
	NewChat   bool                 `json:"new_chat"`
	Quota     models.QuotaSnapshot `json:"quota"`
}

func validateChatRequest(req *models.ChatRequest) map[string]string {
	fieldErrors := make(map[string]string)

	if req.ID == uuid.Nil {
		fieldErrors["id"] = "Chat id must be a UUID"
	}
	if req.Message.ID == uuid.Nil {
		fieldErrors["message.id"] = "Message id must be a UUID"
	}
	if req.Message.Role != "" && req.Message.Role != models.RoleUser {
		fieldErrors["message.role"] = "Only user messages can be sent"
	}
	n := utf8.RuneCountInString(req.Message.Content)
	if strings.TrimSpace(req.Message.Content) == "" || n > maxMessageLength {
		fieldErrors["message.content"] = "Message must be between 1 and 2000 characters"
	}
	if len(req.Message.Attachments) > maxMessageAttaches {
		fieldErrors["message.attachments"] = "At most 4 attachments are allowed"
	}
	for _, a := range req.Message.Attachments {
		if _, ok := allowedUploadTypes[a.ContentType]; !ok {
			fieldErrors["message.attachments"] = "Unsupported attachment type"
			break
		}
	}
	if req.SelectedChatModel == "" {
		req.SelectedChatModel = ai.DefaultChatModel
	}
	if !ai.IsChatModel(req.SelectedChatModel) {
		fieldErrors["selected_chat_model"] = "Unknown chat model"
	}
	if req.SelectedVisibilityType == "" {
		req.SelectedVisibilityType = models.VisibilityPrivate
	}
	if req.SelectedVisibilityType != models.VisibilityPublic && req.SelectedVisibilityType != models.VisibilityPrivate {
		fieldErrors["selected_visibility_type"] = "Visibility must be public or private"
	}
	return fieldErrors
}

// SendMessage stores the user's message under quota and starts the assistant
// reply in the background. The reply is read through FollowStream.
func (s *ChatService) SendMessage(ctx context.Context, userID uuid.UUID, req models.ChatRequest) (*StartedStream, error) {
	if fieldErrors := validateChatRequest(&req); len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "User not found")
	}
	now := s.now()
	userType := user.EffectiveType(now)
	ent := ai.EntitlementsFor(ai.UserType(userType))
	if !ent.AllowsModel(req.SelectedChatModel) {
		return nil, &ForbiddenError{Message: "Your plan does not include this model"}
	}

	var newChat *models.Chat
	chat, err := s.Chats.GetByID(ctx, req.ID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		newChat = &models.Chat{
			ID:         req.ID,
			UserID:     userID,
			Title:      defaultNewChatTitle,
			Visibility: req.SelectedVisibilityType,
		}
		chat = newChat
	case err != nil:
		return nil, err
	case chat.UserID != userID:
		return nil, &ForbiddenError{Message: "You do not have access to this chat"}
	}

	current := make([]ai.Attachment, 0, len(req.Message.Attachments))
	stored := make([]models.Attachment, 0, len(req.Message.Attachments))
	for _, a := range req.Message.Attachments {
		resolved, err := s.Attachments.Resolve(userID, a)
		if err != nil {
			return nil, err
		}
		current = append(current, resolved)
		stored = append(stored, models.Attachment{
			URL: a.URL, Name: a.Name, ContentType: a.ContentType, Text: resolved.Text,
		})
	}

	userMsg := &models.Message{
		ID:          req.Message.ID,
		ChatID:      chat.ID,
		Role:        models.RoleUser,
		Parts:       []models.MessagePart{{Type: "text", Text: req.Message.Content}},
		Attachments: stored,
		TokenCount:  s.Tokens.Count(req.Message.Content),
	}

	since := now.Add(-QuotaWindowHours * time.Hour)
	used, err := s.Messages.CreateUserMessageWithinQuota(ctx, userID, newChat, userMsg, ent.MaxMessagesPerDay, since)
	if err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			return nil, &QuotaExceededError{Limit: ent.MaxMessagesPerDay, Used: used}
		}
		if isUniqueViolation(err) {
			return nil, &ConflictError{Message: "Message or chat already exists"}
		}
		return nil, err
	}

	if newChat != nil {
		s.enqueueTitle(ctx, userID, chat.ID, req.Message.Content)
	}

	history, err := s.Messages.ListByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	prompt := s.buildPrompt(history, userMsg.ID, current)

	started := &StartedStream{
		ChatID:    chat.ID,
		StreamID:  uuid.New(),
		MessageID: uuid.New(),
		NewChat:   newChat != nil,
		Quota:     buildSnapshot(userType, ent.MaxMessagesPerDay, used),
	}

	// The start event exists before the stream row, so Resume never finds
	// a stream without events.
	if err := s.appendEvent(started.StreamID, models.StreamEvent{
		Type:      "start",
		MessageID: &started.MessageID,
		StreamID:  &started.StreamID,
	}); err != nil {
		return nil, err
	}
	stream := &models.Stream{ID: started.StreamID, ChatID: chat.ID}
	if err := s.Streams.Create(ctx, stream); err != nil {
		return nil, err
	}

	// Generation is detached from the request so a reload can resume it.
	s.active.Add(1)
	go func() {
		defer s.active.Add(-1)
		s.generate(userID, req.SelectedChatModel, req.WebSearchEnabled, prompt, started)
	}()

	return started, nil
}

// ActiveGenerations reports how many replies are still being produced.
func (s *ChatService) ActiveGenerations() int64 {
	return s.active.Load()
}

// CancelGenerations stops every running generation. Each one still saves
// what it produced and records an error event.
func (s *ChatService) CancelGenerations() {
	s.cancelBase()
}

// appendEvent writes one event on its own deadline, independent of the
// generation that produced it.
func (s *ChatService) appendEvent(streamID uuid.UUID, evt models.StreamEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), appendTimeout)
	defer cancel()
	return s.StreamLog.Append(ctx, streamID, evt)
}

func (s *ChatService) enqueueTitle(ctx context.Context, userID, chatID uuid.UUID, message string) {
	if s.Jobs == nil {
		return
	}
	cfg, _ := json.Marshal(models.TitleJobConfig{Message: message})
	job := &models.Job{
		UserID:      userID,
		Type:        models.JobTypeTitleGeneration,
		ReferenceID: chatID,
		ConfigJSON:  cfg,
	}
	if err := s.Jobs.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).Str("chat_id", chatID.String()).Msg("failed to enqueue title generation")
	}
}

// buildPrompt converts stored history into provider messages. Only the
// current message carries image data; earlier documents keep their text.
func (s *ChatService) buildPrompt(history []*models.Message, currentID uuid.UUID, current []ai.Attachment) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		am := ai.Message{Role: m.Role, Content: m.Text()}
		if m.ID == currentID {
			am.Attachments = current
		} else {
			for _, a := range m.Attachments {
				if a.Text != "" {
					am.Attachments = append(am.Attachments, ai.Attachment{Name: a.Name, MediaType: a.ContentType, Text: a.Text})
				}
			}
		}
		out = append(out, am)
	}
	return s.Tokens.TrimToBudget(out, s.MaxContextTokens)
}

func (s *ChatService) generate(userID uuid.UUID, modelID string, webSearch bool, prompt []ai.Message, started *StartedStream) {
	// Only the model call runs under the generation deadline.
	genCtx, stopGen := context.WithTimeout(s.baseCtx, generationTimeout)
	defer stopGen()

	logger := log.With().Str("chat_id", started.ChatID.String()).Str("stream_id", started.StreamID.String()).Logger()

	appendEvent := func(evt models.StreamEvent) {
		if err := s.appendEvent(started.StreamID, evt); err != nil {
			logger.Error().Err(err).Str("event", evt.Type).Msg("failed to append stream event")
		}
	}

	messageID := started.MessageID
	streamID := started.StreamID

	var stopped atomic.Bool
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-genCtx.Done():
				return
			case <-ticker.C:
				if c, err := s.StreamLog.Cancelled(genCtx, streamID); err == nil && c {
					stopped.Store(true)
					stopGen()
					return
				}
			}
		}
	}()

	var text, reasoning strings.Builder
	var genErr error

	chunks, err := s.Models.Stream(genCtx, modelID, ai.Request{
		System:    ai.SystemPrompt,
		Messages:  prompt,
		WebSearch: webSearch,
	})
	if err != nil {
		genErr = err
	} else {
		for c := range chunks {
			if c.Err != nil {
				genErr = c.Err
				break
			}
			switch c.Kind {
			case ai.ChunkReasoning:
				reasoning.WriteString(c.Delta)
				appendEvent(models.StreamEvent{Type: "reasoning", Delta: c.Delta})
			default:
				text.WriteString(c.Delta)
				appendEvent(models.StreamEvent{Type: "text", Delta: c.Delta})
			}
		}
	}

	finishReason := finishReasonStop
	if stopped.Load() {
		finishReason = finishReasonStopped
		genErr = nil
	} else if genErr == nil && genCtx.Err() != nil {
		genErr = genCtx.Err()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), finalizeTimeout)
	defer cancel()

	if text.Len() > 0 || reasoning.Len() > 0 {
		msg := &models.Message{
			ID:         messageID,
			ChatID:     started.ChatID,
			Role:       models.RoleAssistant,
			TokenCount: s.Tokens.Count(text.String()),
		}
		if reasoning.Len() > 0 {
			msg.Parts = append(msg.Parts, models.MessagePart{Type: "reasoning", Text: reasoning.String()})
		}
		msg.Parts = append(msg.Parts, models.MessagePart{Type: "text", Text: text.String()})
		if err := s.Messages.Create(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("failed to save assistant message")
			if genErr == nil {
				genErr = err
			}
		}
	}

	if genErr != nil {
		logger.Error().Err(genErr).Str("model", modelID).Msg("generation failed")
		appendEvent(models.StreamEvent{Type: "error", Error: generationErrMessage, FinishReason: finishReasonError})
	} else {
		appendEvent(models.StreamEvent{Type: "finish", FinishReason: finishReason})
	}

	if s.Publisher != nil {
		snap, err := s.quota.Snapshot(ctx, userID)
		if err == nil {
			s.Publisher.Publish(ctx, userID, models.WSMessage{Type: "quota_update", Payload: snap})
		}
	}
	logger.Debug().Str("finish_reason", finishReason).Int("chars", text.Len()).Msg("generation finished")
}

// FollowStream replays a generation from its first event and keeps
// streaming until it finishes or ctx is done.
func (s *ChatService) FollowStream(ctx context.Context, streamID uuid.UUID, fn func(models.StreamEvent) error) error {
	return s.StreamLog.Follow(ctx, streamID, fn)
}

// ResumeResult tells the caller how to continue a chat view after reload.
// Exactly one of StreamID and Message is set.
type ResumeResult struct {
	StreamID *uuid.UUID
	Message  *models.Message
}

// Resume finds an in-flight generation for the chat. If the last one
// already finished moments ago, the saved reply is returned instead. A nil
// result means there is nothing to resume.
func (s *ChatService) Resume(ctx context.Context, viewerID, chatID uuid.UUID) (*ResumeResult, error) {
	chat, err := s.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, notFound(err, "Chat not found")
	}
	if chat.Visibility != models.VisibilityPublic && chat.UserID != viewerID {
		return nil, &ForbiddenError{Message: "You do not have access to this chat"}
	}

	stream, err := s.Streams.LatestByChat(ctx, chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	last, err := s.StreamLog.Last(ctx, stream.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && !last.Terminal() {
		id := stream.ID
		return &ResumeResult{StreamID: &id}, nil
	}

	messages, err := s.Messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	latest := messages[len(messages)-1]
	if latest.Role != models.RoleAssistant || s.now().Sub(latest.CreatedAt) > resumeRecentMessage {
		return nil, nil
	}
	return &ResumeResult{Message: latest}, nil
}

// Stop asks the running generation of a chat to finish early.
func (s *ChatService) Stop(ctx context.Context, userID, chatID uuid.UUID) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	stream, err := s.Streams.LatestByChat(ctx, chatID)
	if err != nil {
		return notFound(err, "No generation to stop")
	}
	return s.StreamLog.Cancel(ctx, stream.ID)
}

func (s *ChatService) ownedChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Chat, error) {
	chat, err := s.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, notFound(err, "Chat not found")
	}
	if chat.UserID != userID {
		return nil, &ForbiddenError{Message: "You do not have access to this chat"}
	}
	return chat, nil
}

type ChatView struct {
	Chat       *models.Chat      `json:"chat"`
	Messages   []*models.Message `json:"messages"`
	Votes      []*models.Vote    `json:"votes"`
	IsReadonly bool              `json:"is_readonly"`
}

// GetChat loads a chat for display. Private chats are visible to their
// owner only; everyone else sees public chats read-only.
func (s *ChatService) GetChat(ctx context.Context, viewerID, chatID uuid.UUID) (*ChatView, error) {
	chat, err := s.Chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, notFound(err, "Chat not found")
	}
	isOwner := chat.UserID == viewerID
	if chat.Visibility == models.VisibilityPrivate && !isOwner {
		return nil, &ForbiddenError{Message: "You do not have access to this chat"}
	}

	view := &ChatView{Chat: chat, IsReadonly: !isOwner, Votes: []*models.Vote{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgs, err := s.Messages.ListByChat(gctx, chatID)
		view.Messages = msgs
		return err
	})
	if isOwner {
		g.Go(func() error {
			votes, err := s.Votes.ListByChat(gctx, chatID)
			if err == nil {
				view.Votes = votes
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID uuid.UUID) (*models.Chat, error) {
	chat, err := s.ownedChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.Chats.Delete(ctx, chatID); err != nil {
		return nil, notFound(err, "Chat not found")
	}
	return chat, nil
}

func (s *ChatService) SetVisibility(ctx context.Context, userID, chatID uuid.UUID, visibility string) error {
	if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
		return &ValidationError{Fields: map[string]string{"visibility": "Visibility must be public or private"}}
	}
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	return notFound(s.Chats.UpdateVisibility(ctx, chatID, visibility), "Chat not found")
}

// History pages through the user's chats, newest first.
func (s *ChatService) History(ctx context.Context, userID uuid.UUID, limit int, startingAfter, endingBefore *uuid.UUID) (*models.ChatHistoryPage, error) {
	if startingAfter != nil && endingBefore != nil {
		return nil, &ValidationError{Fields: map[string]string{
			"starting_after": "Only one of starting_after or ending_before can be provided",
		}}
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	chats, hasMore, err := s.Chats.ListByUser(ctx, userID, limit, startingAfter, endingBefore)
	if err != nil {
		return nil, notFound(err, "Cursor chat not found")
	}
	return &models.ChatHistoryPage{Chats: chats, HasMore: hasMore}, nil
}

// DeleteTrailingMessages removes a message and everything after it in the
// same chat.
func (s *ChatService) DeleteTrailingMessages(ctx context.Context, userID, messageID uuid.UUID) (int64, error) {
	msg, err := s.Messages.GetByID(ctx, messageID)
	if err != nil {
		return 0, notFound(err, "Message not found")
	}
	if _, err := s.ownedChat(ctx, userID, msg.ChatID); err != nil {
		return 0, err
	}
	return s.Messages.DeleteTrailing(ctx, msg.ChatID, msg.CreatedAt)
}

// GenerateTitle names a new chat after its first message.
func (s *ChatService) GenerateTitle(ctx context.Context, job *models.Job) error {
	var cfg models.TitleJobConfig
	if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
		return err
	}

	raw, err := s.Models.Generate(ctx, ai.TitleModel, ai.Request{
		System:   ai.TitlePrompt,
		Messages: []ai.Message{{Role: models.RoleUser, Content: cfg.Message}},
	})
	if err != nil {
		return err
	}
	title := cleanTitle(raw)
	if title == "" {
		title = defaultNewChatTitle
	}

	if err := s.Chats.UpdateTitle(ctx, job.ReferenceID, title); err != nil {
		return err
	}
	if s.Publisher != nil {
		s.Publisher.Publish(ctx, job.UserID, models.WSMessage{
			Type:    "chat_title",
			Payload: models.ChatTitleEvent{ChatID: job.ReferenceID, Title: title},
		})
	}
	return nil
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, "\"'` ")
	title = strings.ReplaceAll(title, ":", "")
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	return strings.TrimSpace(title)
}
