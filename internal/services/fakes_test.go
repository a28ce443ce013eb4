package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chatbot-backend/internal/ai"
	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[uuid.UUID]*models.User
	chats    map[uuid.UUID]*models.Chat
	messages []*models.Message
	votes    map[uuid.UUID]*models.Vote
	streams  []*models.Stream

	lastLimit int
}

func newMemStore() *memStore {
	return &memStore{
		now:   time.Now,
		users: make(map[uuid.UUID]*models.User),
		chats: make(map[uuid.UUID]*models.Chat),
		votes: make(map[uuid.UUID]*models.Vote),
	}
}

func (m *memStore) addUser(userType string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Type: userType, CreatedAt: m.now()}
	m.users[u.ID] = u
	return u
}

func (m *memStore) addChat(owner uuid.UUID, visibility string) *models.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Chat{ID: uuid.New(), UserID: owner, Title: "Existing", Visibility: visibility, CreatedAt: m.now()}
	m.chats[c.ID] = c
	return c
}

func (m *memStore) addMessage(chatID uuid.UUID, role, text string, at time.Time) *models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Role:      role,
		Parts:     []models.MessagePart{{Type: "text", Text: text}},
		CreatedAt: at,
	}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *memStore) messagesOf(chatID uuid.UUID) []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, 0)
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

// users

type memUsers struct{ *memStore }

func (u memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

func (u memUsers) ExtendPremium(ctx context.Context, id uuid.UUID, d time.Duration) (time.Time, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return time.Time{}, pgx.ErrNoRows
	}
	base := u.now()
	if user.PremiumUntil != nil && user.PremiumUntil.After(base) {
		base = *user.PremiumUntil
	}
	until := base.Add(d)
	user.Type = models.UserTypePremium
	user.PremiumUntil = &until
	return until, nil
}

func (u memUsers) DowngradeExpired(ctx context.Context) ([]repository.ExpiredMembership, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]repository.ExpiredMembership, 0)
	for _, user := range u.users {
		if user.Type == models.UserTypePremium && user.PremiumUntil != nil && !user.PremiumUntil.After(u.now()) {
			user.Type = models.UserTypeRegular
			out = append(out, repository.ExpiredMembership{ID: user.ID, Email: user.Email, PremiumUntil: *user.PremiumUntil})
		}
	}
	return out, nil
}

// chats

type memChats struct{ *memStore }

func (c memChats) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *chat
	return &cp, nil
}

func (c memChats) ListByUser(ctx context.Context, userID uuid.UUID, limit int, startingAfter, endingBefore *uuid.UUID) ([]*models.Chat, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLimit = limit
	out := make([]*models.Chat, 0)
	for _, chat := range c.chats {
		if chat.UserID == userID {
			out = append(out, chat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

func (c memChats) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[id]
	if !ok {
		return pgx.ErrNoRows
	}
	chat.Title = title
	return nil
}

func (c memChats) UpdateVisibility(ctx context.Context, id uuid.UUID, visibility string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[id]
	if !ok {
		return pgx.ErrNoRows
	}
	chat.Visibility = visibility
	return nil
}

func (c memChats) Delete(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chats[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(c.chats, id)
	kept := c.messages[:0]
	for _, msg := range c.messages {
		if msg.ChatID != id {
			kept = append(kept, msg)
		}
	}
	c.messages = kept
	return nil
}

// messages

type memMessages struct{ *memStore }

func (m memMessages) countLocked(userID uuid.UUID, since time.Time) int {
	n := 0
	for _, msg := range m.messages {
		chat, ok := m.chats[msg.ChatID]
		if ok && chat.UserID == userID && msg.Role == models.RoleUser && msg.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

func (m memMessages) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(userID, since), nil
}

func (m memMessages) CreateUserMessageWithinQuota(ctx context.Context, userID uuid.UUID, newChat *models.Chat, msg *models.Message, limit int, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.countLocked(userID, since)
	if used >= limit {
		return used, repository.ErrQuotaExceeded
	}
	if newChat != nil {
		newChat.CreatedAt = m.now()
		cp := *newChat
		m.chats[newChat.ID] = &cp
	}
	msg.CreatedAt = m.now()
	m.messages = append(m.messages, msg)
	return used + 1, nil
}

func (m memMessages) Create(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = m.now()
	m.messages = append(m.messages, msg)
	return nil
}

func (m memMessages) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m memMessages) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error) {
	return m.messagesOf(chatID), nil
}

func (m memMessages) DeleteTrailing(ctx context.Context, chatID uuid.UUID, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ChatID == chatID && !msg.CreatedAt.Before(ts) {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

// streams

type memStreams struct{ *memStore }

func (s memStreams) Create(ctx context.Context, st *models.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.CreatedAt = s.now()
	s.streams = append(s.streams, st)
	return nil
}

func (s memStreams) LatestByChat(ctx context.Context, chatID uuid.UUID) (*models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.streams) - 1; i >= 0; i-- {
		if s.streams[i].ChatID == chatID {
			return s.streams[i], nil
		}
	}
	return nil, pgx.ErrNoRows
}

// votes

type memVotes struct{ *memStore }

func (v memVotes) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*models.Vote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*models.Vote, 0)
	for _, vote := range v.votes {
		if vote.ChatID == chatID {
			out = append(out, vote)
		}
	}
	return out, nil
}

func (v memVotes) Upsert(ctx context.Context, vote *models.Vote) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := *vote
	v.votes[vote.MessageID] = &cp
	return nil
}

// memStreamLog keeps stream events in memory and wakes followers on append.
type memStreamLog struct {
	mu        sync.Mutex
	events    map[uuid.UUID][]models.StreamEvent
	cancelled map[uuid.UUID]bool
	changed   chan struct{}
}

func newMemStreamLog() *memStreamLog {
	return &memStreamLog{
		events:    make(map[uuid.UUID][]models.StreamEvent),
		cancelled: make(map[uuid.UUID]bool),
		changed:   make(chan struct{}),
	}
}

func (l *memStreamLog) Append(ctx context.Context, id uuid.UUID, evt models.StreamEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[id] = append(l.events[id], evt)
	close(l.changed)
	l.changed = make(chan struct{})
	return nil
}

func (l *memStreamLog) Follow(ctx context.Context, id uuid.UUID, fn func(models.StreamEvent) error) error {
	next := 0
	for {
		l.mu.Lock()
		pending := append([]models.StreamEvent(nil), l.events[id][next:]...)
		wait := l.changed
		l.mu.Unlock()

		for _, evt := range pending {
			next++
			if err := fn(evt); err != nil {
				return err
			}
			if evt.Terminal() {
				return nil
			}
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (l *memStreamLog) Last(ctx context.Context, id uuid.UUID) (*models.StreamEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evts := l.events[id]
	if len(evts) == 0 {
		return nil, nil
	}
	last := evts[len(evts)-1]
	return &last, nil
}

func (l *memStreamLog) Cancel(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled[id] = true
	return nil
}

func (l *memStreamLog) Cancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled[id], nil
}

// recordingPublisher captures push events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	UserID uuid.UUID
	Msg    models.WSMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{UserID: userID, Msg: msg})
}

func (p *recordingPublisher) ofType(t string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, 0)
	for _, e := range p.events {
		if e.Msg.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// recordingJobs captures enqueued jobs.
type recordingJobs struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (q *recordingJobs) Enqueue(ctx context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.ID = uuid.New()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingJobs) all() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.Job(nil), q.jobs...)
}

// scriptedProvider streams fixed deltas. With hold set it emits the first
// delta and then waits for the context to end.
type scriptedProvider struct {
	deltas []string
	title  string
	err    error
	hold   bool

	mu       sync.Mutex
	requests []ai.Request
}

func (p *scriptedProvider) Stream(ctx context.Context, req ai.Request) (<-chan ai.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}

	out := make(chan ai.Chunk)
	go func() {
		defer close(out)
		for i, d := range p.deltas {
			select {
			case out <- ai.Chunk{Kind: ai.ChunkText, Delta: d}:
			case <-ctx.Done():
				return
			}
			if p.hold && i == 0 {
				<-ctx.Done()
				return
			}
		}
	}()
	return out, nil
}

func (p *scriptedProvider) Generate(ctx context.Context, req ai.Request) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.title, nil
}

func (p *scriptedProvider) lastRequest() ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}
