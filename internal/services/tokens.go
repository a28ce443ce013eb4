package services

import (
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"chatbot-backend/internal/ai"
)

// TokenCounter estimates prompt size with the cl100k_base encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("tokenizer unavailable, falling back to length estimate")
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

func (t *TokenCounter) Count(text string) int {
	if t == nil || t.codec == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

func (t *TokenCounter) countMessage(m ai.Message) int {
	n := t.Count(m.Content) + 4
	for _, a := range m.Attachments {
		n += t.Count(a.Text)
		if a.IsImage() {
			n += 85
		}
	}
	return n
}

// TrimToBudget keeps the newest messages whose combined size fits budget.
// The last message is always kept.
func (t *TokenCounter) TrimToBudget(messages []ai.Message, budget int) []ai.Message {
	if len(messages) == 0 {
		return messages
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n := t.countMessage(messages[i])
		if total+n > budget && i < len(messages)-1 {
			break
		}
		total += n
		start = i
	}

	// a conversation must not open with an assistant turn
	for start < len(messages)-1 && messages[start].Role == "assistant" {
		start++
	}
	return messages[start:]
}
