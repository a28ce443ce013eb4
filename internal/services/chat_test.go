package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/models"
)

type chatFixture struct {
	store     *memStore
	streamLog *memStreamLog
	publisher *recordingPublisher
	jobs      *recordingJobs
	provider  *scriptedProvider
	storage   string
	svc       *ChatService
}

func newChatFixture(t *testing.T, provider *scriptedProvider) *chatFixture {
	t.Helper()
	if provider == nil {
		provider = &scriptedProvider{deltas: []string{"Hello, ", "world!"}, title: "Greeting"}
	}
	f := &chatFixture{
		store:     newMemStore(),
		streamLog: newMemStreamLog(),
		publisher: &recordingPublisher{},
		jobs:      &recordingJobs{},
		provider:  provider,
		storage:   t.TempDir(),
	}
	f.svc = NewChatService(ChatDeps{
		Users:       memUsers{f.store},
		Chats:       memChats{f.store},
		Messages:    memMessages{f.store},
		Streams:     memStreams{f.store},
		Votes:       memVotes{f.store},
		Models:      ai.NewStaticRegistry(provider, 2),
		StreamLog:   f.streamLog,
		Publisher:   f.publisher,
		Jobs:        f.jobs,
		Attachments: NewAttachmentService(f.storage),
	})
	return f
}

func chatRequest(chatID uuid.UUID, content string) models.ChatRequest {
	return models.ChatRequest{
		ID:                     chatID,
		Message:                models.ChatRequestMessage{ID: uuid.New(), Role: models.RoleUser, Content: content},
		SelectedChatModel:      ai.ChatModel,
		SelectedVisibilityType: models.VisibilityPrivate,
	}
}

func collect(t *testing.T, svc *ChatService, streamID uuid.UUID) []models.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []models.StreamEvent
	err := svc.FollowStream(ctx, streamID, func(evt models.StreamEvent) error {
		events = append(events, evt)
		return nil
	})
	require.NoError(t, err)
	return events
}

func waitIdle(t *testing.T, svc *ChatService) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.ActiveGenerations() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestChatService_SendMessage_NewChat(t *testing.T) {
	f := newChatFixture(t, nil)
	user := f.store.addUser(models.UserTypeRegular)
	chatID := uuid.New()

	started, err := f.svc.SendMessage(context.Background(), user.ID, chatRequest(chatID, "hi there"))
	require.NoError(t, err)
	assert.True(t, started.NewChat)
	assert.Equal(t, chatID, started.ChatID)
	assert.Equal(t, 1, started.Quota.Used)
	assert.Equal(t, 99, started.Quota.Remaining)

	events := collect(t, f.svc, started.StreamID)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "start", events[0].Type)
	require.NotNil(t, events[0].MessageID)
	assert.Equal(t, started.MessageID, *events[0].MessageID)
	last := events[len(events)-1]
	assert.Equal(t, "finish", last.Type)
	assert.Equal(t, "stop", last.FinishReason)

	waitIdle(t, f.svc)

	msgs := f.store.messagesOf(chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello, world!", msgs[1].Text())
	assert.Equal(t, started.MessageID, msgs[1].ID)

	chat, err := memChats{f.store}.GetByID(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "New Chat", chat.Title)
	assert.Equal(t, models.VisibilityPrivate, chat.Visibility)

	jobs := f.jobs.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeTitleGeneration, jobs[0].Type)
	assert.Equal(t, chatID, jobs[0].ReferenceID)

	updates := f.publisher.ofType("quota_update")
	require.Len(t, updates, 1)
	snap, ok := updates[0].Msg.Payload.(models.QuotaSnapshot)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Used)

	req := f.provider.lastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi there", req.Messages[0].Content)
	assert.Equal(t, ai.SystemPrompt, req.System)
}

func TestChatService_SendMessage_ExistingChatKeepsHistory(t *testing.T) {
	f := newChatFixture(t, nil)
	user := f.store.addUser(models.UserTypeRegular)
	chat := f.store.addChat(user.ID, models.VisibilityPrivate)
	f.store.addMessage(chat.ID, models.RoleUser, "first", time.Now().Add(-time.Minute))
	f.store.addMessage(chat.ID, models.RoleAssistant, "reply", time.Now().Add(-50*time.Second))

	started, err := f.svc.SendMessage(context.Background(), user.ID, chatRequest(chat.ID, "second"))
	require.NoError(t, err)
	assert.False(t, started.NewChat)
	collect(t, f.svc, started.StreamID)
	waitIdle(t, f.svc)

	assert.Empty(t, f.jobs.all())
	req := f.provider.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "first", req.Messages[0].Content)
	assert.Equal(t, "second", req.Messages[2].Content)
}

func TestChatService_SendMessage_QuotaExceeded(t *testing.T) {
	f := newChatFixture(t, nil)
	guest := f.store.addUser(models.UserTypeGuest)
	chat := f.store.addChat(guest.ID, models.VisibilityPrivate)
	for i := 0; i < 30; i++ {
		f.store.addMessage(chat.ID, models.RoleUser, "msg", time.Now().Add(-time.Hour))
	}

	_, err := f.svc.SendMessage(context.Background(), guest.ID, chatRequest(chat.ID, "one more"))
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 30, quotaErr.Limit)
	assert.Len(t, f.store.messagesOf(chat.ID), 30)
}

func TestChatService_SendMessage_OldMessagesDoNotCount(t *testing.T) {
	f := newChatFixture(t, nil)
	guest := f.store.addUser(models.UserTypeGuest)
	chat := f.store.addChat(guest.ID, models.VisibilityPrivate)
	for i := 0; i < 30; i++ {
		f.store.addMessage(chat.ID, models.RoleUser, "msg", time.Now().Add(-25*time.Hour))
	}

	started, err := f.svc.SendMessage(context.Background(), guest.ID, chatRequest(chat.ID, "fresh day"))
	require.NoError(t, err)
	assert.Equal(t, 1, started.Quota.Used)
	collect(t, f.svc, started.StreamID)
	waitIdle(t, f.svc)
}

func TestChatService_SendMessage_Rejections(t *testing.T) {
	f := newChatFixture(t, nil)
	owner := f.store.addUser(models.UserTypeRegular)
	other := f.store.addUser(models.UserTypeRegular)
	chat := f.store.addChat(owner.ID, models.VisibilityPublic)
	ctx := context.Background()

	t.Run("someone else's chat", func(t *testing.T) {
		_, err := f.svc.SendMessage(ctx, other.ID, chatRequest(chat.ID, "hello"))
		var forbidden *ForbiddenError
		assert.ErrorAs(t, err, &forbidden)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := f.svc.SendMessage(ctx, owner.ID, chatRequest(uuid.New(), "   "))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "message.content")
	})

	t.Run("too long", func(t *testing.T) {
		long := make([]rune, 2001)
		for i := range long {
			long[i] = 'a'
		}
		_, err := f.svc.SendMessage(ctx, owner.ID, chatRequest(uuid.New(), string(long)))
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("unknown model", func(t *testing.T) {
		req := chatRequest(uuid.New(), "hello")
		req.SelectedChatModel = "gpt-9"
		_, err := f.svc.SendMessage(ctx, owner.ID, req)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "selected_chat_model")
	})

	t.Run("bad visibility", func(t *testing.T) {
		req := chatRequest(uuid.New(), "hello")
		req.SelectedVisibilityType = "friends"
		_, err := f.svc.SendMessage(ctx, owner.ID, req)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("too many attachments", func(t *testing.T) {
		req := chatRequest(uuid.New(), "hello")
		for i := 0; i < 5; i++ {
			req.Message.Attachments = append(req.Message.Attachments, models.Attachment{URL: "/files/x", ContentType: "text/plain"})
		}
		_, err := f.svc.SendMessage(ctx, owner.ID, req)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "message.attachments")
	})

	t.Run("attachment of another user", func(t *testing.T) {
		up, err := f.svc.Attachments.Save(ctx, other.ID, "notes.txt", []byte("secret notes"))
		require.NoError(t, err)

		req := chatRequest(uuid.New(), "summarize")
		req.Message.Attachments = []models.Attachment{{URL: up.URL, Name: "notes.txt", ContentType: up.ContentType}}
		_, err = f.svc.SendMessage(ctx, owner.ID, req)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	assert.Empty(t, f.store.messagesOf(chat.ID))
}

func TestChatService_SendMessage_WithDocumentAttachment(t *testing.T) {
	f := newChatFixture(t, nil)
	user := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()

	up, err := f.svc.Attachments.Save(ctx, user.ID, "notes.txt", []byte("the meeting is on tuesday"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.storage, "users", user.ID.String()))
	require.NoError(t, err)

	req := chatRequest(uuid.New(), "when is the meeting?")
	req.Message.Attachments = []models.Attachment{{URL: up.URL, Name: "notes.txt", ContentType: up.ContentType}}
	started, err := f.svc.SendMessage(ctx, user.ID, req)
	require.NoError(t, err)
	collect(t, f.svc, started.StreamID)
	waitIdle(t, f.svc)

	sent := f.provider.lastRequest().Messages
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "the meeting is on tuesday", sent[0].Attachments[0].Text)

	msgs := f.store.messagesOf(req.ID)
	require.NotEmpty(t, msgs)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "the meeting is on tuesday", msgs[0].Attachments[0].Text)
}

func TestChatService_ReasoningModel(t *testing.T) {
	f := newChatFixture(t, &scriptedProvider{deltas: []string{"<thi", "nk>weigh it", "</think>", "42"}})
	user := f.store.addUser(models.UserTypeRegular)

	req := chatRequest(uuid.New(), "meaning of life?")
	req.SelectedChatModel = ai.ChatModelReasoning
	started, err := f.svc.SendMessage(context.Background(), user.ID, req)
	require.NoError(t, err)

	events := collect(t, f.svc, started.StreamID)
	var reasoning, text string
	for _, e := range events {
		switch e.Type {
		case "reasoning":
			reasoning += e.Delta
		case "text":
			text += e.Delta
		}
	}
	assert.Equal(t, "weigh it", reasoning)
	assert.Equal(t, "42", text)

	waitIdle(t, f.svc)
	msgs := f.store.messagesOf(req.ID)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].Parts, 2)
	assert.Equal(t, "reasoning", msgs[1].Parts[0].Type)
	assert.Equal(t, "42", msgs[1].Text())
}

func TestChatService_ProviderError(t *testing.T) {
	f := newChatFixture(t, &scriptedProvider{err: errors.New("upstream down")})
	user := f.store.addUser(models.UserTypeRegular)

	req := chatRequest(uuid.New(), "hello")
	started, err := f.svc.SendMessage(context.Background(), user.ID, req)
	require.NoError(t, err)

	events := collect(t, f.svc, started.StreamID)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Type)
	assert.NotEmpty(t, last.Error)

	waitIdle(t, f.svc)
	assert.Len(t, f.store.messagesOf(req.ID), 1, "only the user message is stored")
}

func TestChatService_Stop(t *testing.T) {
	f := newChatFixture(t, &scriptedProvider{deltas: []string{"partial ", "never sent"}, hold: true})
	user := f.store.addUser(models.UserTypeRegular)
	other := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()

	req := chatRequest(uuid.New(), "tell me a long story")
	started, err := f.svc.SendMessage(ctx, user.ID, req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, _ := f.streamLog.Last(ctx, started.StreamID)
		return last != nil && last.Type == "text"
	}, 5*time.Second, 10*time.Millisecond)

	var forbidden *ForbiddenError
	require.ErrorAs(t, f.svc.Stop(ctx, other.ID, req.ID), &forbidden)
	require.NoError(t, f.svc.Stop(ctx, user.ID, req.ID))

	events := collect(t, f.svc, started.StreamID)
	last := events[len(events)-1]
	assert.Equal(t, "finish", last.Type)
	assert.Equal(t, "stopped", last.FinishReason)

	waitIdle(t, f.svc)
	msgs := f.store.messagesOf(req.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial ", msgs[1].Text())
}

// deadlineStreamLog and deadlineMessages fail once their context is done,
// as Redis and Postgres do.
type deadlineStreamLog struct{ *memStreamLog }

func (l deadlineStreamLog) Append(ctx context.Context, id uuid.UUID, evt models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.memStreamLog.Append(ctx, id, evt)
}

type deadlineMessages struct{ memMessages }

func (m deadlineMessages) Create(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memMessages.Create(ctx, msg)
}

func TestChatService_CutOffGenerationIsFinalized(t *testing.T) {
	run := func(t *testing.T, prepare func(svc *ChatService), cutOff func(svc *ChatService, streamLog *memStreamLog, streamID uuid.UUID)) {
		f := newChatFixture(t, &scriptedProvider{deltas: []string{"partial ", "never sent"}, hold: true})
		deps := f.svc.ChatDeps
		deps.StreamLog = deadlineStreamLog{f.streamLog}
		deps.Messages = deadlineMessages{memMessages{f.store}}
		svc := NewChatService(deps)
		prepare(svc)
		user := f.store.addUser(models.UserTypeRegular)
		ctx := context.Background()

		req := chatRequest(uuid.New(), "tell me a long story")
		started, err := svc.SendMessage(ctx, user.ID, req)
		require.NoError(t, err)
		cutOff(svc, f.streamLog, started.StreamID)

		events := collect(t, svc, started.StreamID)
		last := events[len(events)-1]
		assert.Equal(t, "error", last.Type)
		assert.Equal(t, "error", last.FinishReason)

		waitIdle(t, svc)
		msgs := f.store.messagesOf(req.ID)
		require.Len(t, msgs, 2)
		assert.Equal(t, models.RoleAssistant, msgs[1].Role)
		assert.Equal(t, "partial ", msgs[1].Text())
		assert.Len(t, f.publisher.ofType("quota_update"), 1)
	}

	t.Run("generation deadline", func(t *testing.T) {
		run(t, func(svc *ChatService) {
			// stands in for the generation timeout
			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			t.Cleanup(cancel)
			svc.baseCtx = ctx
		}, func(*ChatService, *memStreamLog, uuid.UUID) {})
	})

	t.Run("shutdown", func(t *testing.T) {
		run(t, func(*ChatService) {}, func(svc *ChatService, streamLog *memStreamLog, streamID uuid.UUID) {
			require.Eventually(t, func() bool {
				last, _ := streamLog.Last(context.Background(), streamID)
				return last != nil && last.Type == "text"
			}, 5*time.Second, 10*time.Millisecond)
			svc.CancelGenerations()
		})
	})
}

// startCheckingStreams records whether the start event was already in the
// log when each stream row was created.
type startCheckingStreams struct {
	memStreams
	log *memStreamLog

	mu       sync.Mutex
	sawStart []bool
}

func (s *startCheckingStreams) Create(ctx context.Context, st *models.Stream) error {
	last, _ := s.log.Last(ctx, st.ID)
	s.mu.Lock()
	s.sawStart = append(s.sawStart, last != nil && last.Type == "start")
	s.mu.Unlock()
	return s.memStreams.Create(ctx, st)
}

func TestChatService_StartEventPrecedesStreamRow(t *testing.T) {
	f := newChatFixture(t, &scriptedProvider{deltas: []string{"partial ", "never sent"}, hold: true})
	streams := &startCheckingStreams{memStreams: memStreams{f.store}, log: f.streamLog}
	deps := f.svc.ChatDeps
	deps.Streams = streams
	svc := NewChatService(deps)
	t.Cleanup(func() {
		svc.CancelGenerations()
		waitIdle(t, svc)
	})
	user := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()

	req := chatRequest(uuid.New(), "hello")
	started, err := svc.SendMessage(ctx, user.ID, req)
	require.NoError(t, err)

	streams.mu.Lock()
	assert.Equal(t, []bool{true}, streams.sawStart)
	streams.mu.Unlock()

	res, err := svc.Resume(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.StreamID)
	assert.Equal(t, started.StreamID, *res.StreamID)
}

func TestChatService_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("in-flight stream is replayed", func(t *testing.T) {
		f := newChatFixture(t, nil)
		user := f.store.addUser(models.UserTypeRegular)
		chat := f.store.addChat(user.ID, models.VisibilityPrivate)
		stream := &models.Stream{ID: uuid.New(), ChatID: chat.ID}
		require.NoError(t, memStreams{f.store}.Create(ctx, stream))
		require.NoError(t, f.streamLog.Append(ctx, stream.ID, models.StreamEvent{Type: "start"}))

		res, err := f.svc.Resume(ctx, user.ID, chat.ID)
		require.NoError(t, err)
		require.NotNil(t, res)
		require.NotNil(t, res.StreamID)
		assert.Equal(t, stream.ID, *res.StreamID)
	})

	t.Run("finished stream returns the recent reply", func(t *testing.T) {
		f := newChatFixture(t, nil)
		user := f.store.addUser(models.UserTypeRegular)
		started, err := f.svc.SendMessage(ctx, user.ID, chatRequest(uuid.New(), "hello"))
		require.NoError(t, err)
		collect(t, f.svc, started.StreamID)
		waitIdle(t, f.svc)

		res, err := f.svc.Resume(ctx, user.ID, started.ChatID)
		require.NoError(t, err)
		require.NotNil(t, res)
		require.NotNil(t, res.Message)
		assert.Equal(t, started.MessageID, res.Message.ID)

		f.svc.now = func() time.Time { return time.Now().Add(time.Minute) }
		res, err = f.svc.Resume(ctx, user.ID, started.ChatID)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("no stream", func(t *testing.T) {
		f := newChatFixture(t, nil)
		user := f.store.addUser(models.UserTypeRegular)
		chat := f.store.addChat(user.ID, models.VisibilityPrivate)
		res, err := f.svc.Resume(ctx, user.ID, chat.ID)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("private chat of another user", func(t *testing.T) {
		f := newChatFixture(t, nil)
		owner := f.store.addUser(models.UserTypeRegular)
		other := f.store.addUser(models.UserTypeRegular)
		chat := f.store.addChat(owner.ID, models.VisibilityPrivate)
		_, err := f.svc.Resume(ctx, other.ID, chat.ID)
		var forbidden *ForbiddenError
		assert.ErrorAs(t, err, &forbidden)
	})
}

func TestChatService_GetChat(t *testing.T) {
	f := newChatFixture(t, nil)
	owner := f.store.addUser(models.UserTypeRegular)
	other := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()

	private := f.store.addChat(owner.ID, models.VisibilityPrivate)
	public := f.store.addChat(owner.ID, models.VisibilityPublic)
	msg := f.store.addMessage(public.ID, models.RoleAssistant, "answer", time.Now())
	require.NoError(t, memVotes{f.store}.Upsert(ctx, &models.Vote{ChatID: public.ID, MessageID: msg.ID, IsUpvoted: true}))

	view, err := f.svc.GetChat(ctx, owner.ID, public.ID)
	require.NoError(t, err)
	assert.False(t, view.IsReadonly)
	assert.Len(t, view.Messages, 1)
	assert.Len(t, view.Votes, 1)

	view, err = f.svc.GetChat(ctx, other.ID, public.ID)
	require.NoError(t, err)
	assert.True(t, view.IsReadonly)
	assert.Empty(t, view.Votes)

	_, err = f.svc.GetChat(ctx, other.ID, private.ID)
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	_, err = f.svc.GetChat(ctx, owner.ID, uuid.New())
	var notFoundErr *NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestChatService_DeleteAndVisibility(t *testing.T) {
	f := newChatFixture(t, nil)
	owner := f.store.addUser(models.UserTypeRegular)
	other := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()
	chat := f.store.addChat(owner.ID, models.VisibilityPrivate)
	f.store.addMessage(chat.ID, models.RoleUser, "hi", time.Now())

	var forbidden *ForbiddenError
	require.ErrorAs(t, f.svc.SetVisibility(ctx, other.ID, chat.ID, models.VisibilityPublic), &forbidden)

	var vErr *ValidationError
	require.ErrorAs(t, f.svc.SetVisibility(ctx, owner.ID, chat.ID, "everyone"), &vErr)

	require.NoError(t, f.svc.SetVisibility(ctx, owner.ID, chat.ID, models.VisibilityPublic))
	got, err := memChats{f.store}.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityPublic, got.Visibility)

	_, err = f.svc.DeleteChat(ctx, other.ID, chat.ID)
	require.ErrorAs(t, err, &forbidden)

	deleted, err := f.svc.DeleteChat(ctx, owner.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, deleted.ID)
	assert.Empty(t, f.store.messagesOf(chat.ID))
}

func TestChatService_History(t *testing.T) {
	f := newChatFixture(t, nil)
	user := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.store.addChat(user.ID, models.VisibilityPrivate)
	}

	a, b := uuid.New(), uuid.New()
	_, err := f.svc.History(ctx, user.ID, 10, &a, &b)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	page, err := f.svc.History(ctx, user.ID, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, f.store.lastLimit)
	assert.Len(t, page.Chats, 3)
	assert.False(t, page.HasMore)

	page, err = f.svc.History(ctx, user.ID, 500, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, f.store.lastLimit)

	page, err = f.svc.History(ctx, user.ID, 2, nil, nil)
	require.NoError(t, err)
	assert.Len(t, page.Chats, 2)
	assert.True(t, page.HasMore)
}

func TestChatService_DeleteTrailingMessages(t *testing.T) {
	f := newChatFixture(t, nil)
	owner := f.store.addUser(models.UserTypeRegular)
	other := f.store.addUser(models.UserTypeRegular)
	ctx := context.Background()
	chat := f.store.addChat(owner.ID, models.VisibilityPrivate)

	base := time.Now().Add(-time.Hour)
	f.store.addMessage(chat.ID, models.RoleUser, "one", base)
	second := f.store.addMessage(chat.ID, models.RoleAssistant, "two", base.Add(time.Second))
	f.store.addMessage(chat.ID, models.RoleUser, "three", base.Add(2*time.Second))

	_, err := f.svc.DeleteTrailingMessages(ctx, other.ID, second.ID)
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	n, err := f.svc.DeleteTrailingMessages(ctx, owner.ID, second.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	left := f.store.messagesOf(chat.ID)
	require.Len(t, left, 1)
	assert.Equal(t, "one", left[0].Text())
}

func TestChatService_GenerateTitle(t *testing.T) {
	f := newChatFixture(t, &scriptedProvider{title: "\"Trip: planning a weekend in Rome\"\nextra line"})
	user := f.store.addUser(models.UserTypeRegular)
	chat := f.store.addChat(user.ID, models.VisibilityPrivate)

	job := &models.Job{
		UserID:      user.ID,
		Type:        models.JobTypeTitleGeneration,
		ReferenceID: chat.ID,
		ConfigJSON:  []byte(`{"message":"help me plan a weekend in Rome"}`),
	}
	require.NoError(t, f.svc.GenerateTitle(context.Background(), job))

	got, err := memChats{f.store}.GetByID(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning a weekend in Rome", got.Title)

	events := f.publisher.ofType("chat_title")
	require.Len(t, events, 1)
	assert.Equal(t, user.ID, events[0].UserID)
}

func TestCleanTitle(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}

	tests := []struct {
		in   string
		want string
	}{
		{"  Simple title  ", "Simple title"},
		{"'Quoted'", "Quoted"},
		{"First\nSecond", "First"},
		{"Key: value", "Key value"},
		{long, long[:80]},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanTitle(tt.in))
	}
}
