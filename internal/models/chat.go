package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Chat struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Title      string    `json:"title"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessagePart is one typed segment of a message body ("text" or "reasoning").
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Attachment points at an uploaded file. Text carries extracted document text, if any.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Text        string `json:"text,omitempty"`
}

type Message struct {
	ID          uuid.UUID     `json:"id"`
	ChatID      uuid.UUID     `json:"chat_id"`
	Role        string        `json:"role"`
	Parts       []MessagePart `json:"parts"`
	Attachments []Attachment  `json:"attachments"`
	TokenCount  int           `json:"token_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

type Vote struct {
	ChatID    uuid.UUID `json:"chat_id"`
	MessageID uuid.UUID `json:"message_id"`
	IsUpvoted bool      `json:"is_upvoted"`
}

type Stream struct {
	ID        uuid.UUID `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the payload of POST /api/chat.
type ChatRequest struct {
	ID                     uuid.UUID          `json:"id"`
	Message                ChatRequestMessage `json:"message"`
	SelectedChatModel      string             `json:"selected_chat_model"`
	SelectedVisibilityType string             `json:"selected_visibility_type"`
	WebSearchEnabled       bool               `json:"web_search_enabled"`
}

type ChatRequestMessage struct {
	ID          uuid.UUID    `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

type VoteRequest struct {
	ChatID    uuid.UUID `json:"chat_id"`
	MessageID uuid.UUID `json:"message_id"`
	Type      string    `json:"type"` // "up" | "down"
}

type VisibilityRequest struct {
	Visibility string `json:"visibility"`
}

// ChatHistoryPage is a cursor-paginated slice of a user's chats.
type ChatHistoryPage struct {
	Chats   []*Chat `json:"chats"`
	HasMore bool    `json:"has_more"`
}

// StreamEvent is one SSE frame of an assistant generation. Events are
// persisted verbatim so a resumed stream replays exactly what was sent.
type StreamEvent struct {
	Type         string          `json:"type"` // start | reasoning | text | finish | error | append-message
	MessageID    *uuid.UUID      `json:"message_id,omitempty"`
	StreamID     *uuid.UUID      `json:"stream_id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Error        string          `json:"error,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Type == "finish" || e.Type == "error"
}
