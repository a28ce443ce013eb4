package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/config"
)

type binding struct {
	provider  Provider
	model     string
	reasoning bool
}

// Registry resolves model ids to provider models and bounds the number of
// concurrent provider calls.
type Registry struct {
	models   map[string]binding
	rateChan chan struct{} // Token bucket
	closeFn  func()
}

// NewRegistry wires chat-model, chat-model-reasoning and title-model to the
// configured provider, or to mock models when running under ENV=test.
func NewRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	if cfg.IsTest() {
		mock := NewMockProvider()
		return newRegistry(map[string]binding{
			ChatModel:          {provider: mock, model: "mock-chat"},
			ChatModelReasoning: {provider: mock, model: "mock-reasoning", reasoning: true},
			TitleModel:         {provider: mock, model: "mock-title"},
		}, cfg.AIConcurrentReqs, nil), nil
	}

	switch cfg.AIProvider {
	case "gemini":
		gp, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return newRegistry(map[string]binding{
			ChatModel:          {provider: gp, model: cfg.GeminiModel},
			ChatModelReasoning: {provider: gp, model: cfg.GeminiModel, reasoning: true},
			TitleModel:         {provider: gp, model: cfg.GeminiModel},
		}, cfg.AIConcurrentReqs, gp.Close), nil
	case "openai", "":
		op := NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAISearchModel)
		return newRegistry(map[string]binding{
			ChatModel:          {provider: op, model: cfg.OpenAIChatModel},
			ChatModelReasoning: {provider: op, model: cfg.OpenAIReasoningModel, reasoning: true},
			TitleModel:         {provider: op, model: cfg.OpenAIChatModel},
		}, cfg.AIConcurrentReqs, nil), nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.AIProvider)
	}
}

// NewStaticRegistry binds every model id to a single provider.
func NewStaticRegistry(p Provider, concurrentReqs int) *Registry {
	return newRegistry(map[string]binding{
		ChatModel:          {provider: p, model: ChatModel},
		ChatModelReasoning: {provider: p, model: ChatModelReasoning, reasoning: true},
		TitleModel:         {provider: p, model: TitleModel},
	}, concurrentReqs, nil)
}

func newRegistry(models map[string]binding, concurrentReqs int, closeFn func()) *Registry {
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}
	return &Registry{models: models, rateChan: rateChan, closeFn: closeFn}
}

func (r *Registry) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

// acquireRate blocks until a rate slot is available
func (r *Registry) acquireRate(ctx context.Context) error {
	select {
	case <-r.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for AI rate slot")
	}
}

func (r *Registry) releaseRate() {
	r.rateChan <- struct{}{}
}

func (r *Registry) resolve(modelID string) (binding, error) {
	b, ok := r.models[modelID]
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return b, nil
}

// Stream starts a generation for modelID. The rate slot is held until the
// returned channel is closed.
func (r *Registry) Stream(ctx context.Context, modelID string, req Request) (<-chan Chunk, error) {
	b, err := r.resolve(modelID)
	if err != nil {
		return nil, err
	}
	if err := r.acquireRate(ctx); err != nil {
		return nil, err
	}

	req.Model = b.model
	in, err := b.provider.Stream(ctx, req)
	if err != nil {
		r.releaseRate()
		return nil, err
	}
	if b.reasoning {
		in = ExtractReasoning(ctx, in, "think")
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer r.releaseRate()
		for c := range in {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Debug().Str("model_id", modelID).Str("model", b.model).Msg("generation started")
	return out, nil
}

func (r *Registry) Generate(ctx context.Context, modelID string, req Request) (string, error) {
	b, err := r.resolve(modelID)
	if err != nil {
		return "", err
	}
	if err := r.acquireRate(ctx); err != nil {
		return "", err
	}
	defer r.releaseRate()

	req.Model = b.model
	return b.provider.Generate(ctx, req)
}
