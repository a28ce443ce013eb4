package ai

import (
	"context"
	"errors"
)

const (
	ChunkText      = "text"
	ChunkReasoning = "reasoning"
)

var ErrUnknownModel = errors.New("unknown model")

// Provider is a hosted chat-completion backend.
type Provider interface {
	// Stream returns a channel that is closed after the last chunk. A chunk
	// with a non-nil Err is always the final one.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Generate(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model     string
	System    string
	Messages  []Message
	WebSearch bool
	MaxTokens int
}

type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

type Attachment struct {
	Name      string
	MediaType string
	Data      []byte
	Text      string
}

func (a Attachment) IsImage() bool {
	return a.MediaType == "image/jpeg" || a.MediaType == "image/png"
}

type Chunk struct {
	Kind  string
	Delta string
	Err   error
}

const SystemPrompt = `You are a friendly assistant! Keep your responses concise and helpful.`

const TitlePrompt = `
- you will generate a short title based on the first message a user begins a conversation with
- ensure it is not more than 80 characters long
- the title should be a summary of the user's message
- do not use quotes or colons`

// attachmentText renders the documents attached to a message as plain text.
func attachmentText(atts []Attachment) string {
	var out string
	for _, a := range atts {
		if a.IsImage() || a.Text == "" {
			continue
		}
		out += "\n\n[Attached file: " + a.Name + "]\n" + a.Text
	}
	return out
}
