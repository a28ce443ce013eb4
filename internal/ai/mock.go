package ai

import (
	"context"
	"strings"
)

// MockProvider returns canned output so the service can run end to end
// without provider credentials. Streams are split on spaces.
type MockProvider struct {
	Reply string
	Title string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Reply: "Hello, world! This is a test response.",
		Title: "This is a test title",
	}
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	reply := p.Reply
	if req.Model == "mock-reasoning" {
		reply = "<think>The user sent a message, so I should reply.</think>" + reply
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			select {
			case out <- Chunk{Kind: ChunkText, Delta: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Model == "mock-title" {
		return p.Title, nil
	}
	return p.Reply, nil
}
