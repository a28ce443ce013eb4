package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider ignores Request.WebSearch: grounding is not enabled for
// the configured models.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Close() {
	p.client.Close()
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	cs, last, err := p.startChat(req)
	if err != nil {
		return nil, err
	}
	iter := cs.SendMessageStream(ctx, last...)

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				select {
				case out <- Chunk{Err: fmt.Errorf("Gemini API error: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if text := extractText(resp); text != "" {
				select {
				case out <- Chunk{Kind: ChunkText, Delta: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	cs, last, err := p.startChat(req)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return extractText(resp), nil
}

// startChat loads all but the final message into the session history and
// returns the parts of the final message.
func (p *GeminiProvider) startChat(req Request) (*genai.ChatSession, []genai.Part, error) {
	if len(req.Messages) == 0 {
		return nil, nil, fmt.Errorf("gemini: request has no messages")
	}

	model := p.client.GenerativeModel(req.Model)
	model.SetTemperature(0.7)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	cs := model.StartChat()
	history := req.Messages[:len(req.Messages)-1]
	for _, m := range history {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: geminiParts(m),
		})
	}
	return cs, geminiParts(req.Messages[len(req.Messages)-1]), nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func geminiParts(m Message) []genai.Part {
	parts := []genai.Part{genai.Text(m.Content + attachmentText(m.Attachments))}
	for _, a := range m.Attachments {
		if a.IsImage() && len(a.Data) > 0 {
			parts = append(parts, genai.ImageData(strings.TrimPrefix(a.MediaType, "image/"), a.Data))
		}
	}
	return parts
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
