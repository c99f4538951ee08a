package reasoning

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenRouterService calls an OpenAI-compatible chat completion endpoint.
type OpenRouterService struct {
	llm llms.Model
}

func NewOpenRouter(baseURL, apiKey, model string) (*OpenRouterService, error) {
	if apiKey == "" {
		return nil, errors.New("openrouter api key required")
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create openrouter client")
	}
	return &OpenRouterService{llm: llm}, nil
}

// NewWithModel wraps any langchaingo model.
func NewWithModel(llm llms.Model) *OpenRouterService {
	return &OpenRouterService{llm: llm}
}

func (s *OpenRouterService) Reason(ctx context.Context, prompt, systemContext string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemContext),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(MaxTokens),
		llms.WithTemperature(Temperature),
	)
	if err != nil {
		return "", errors.Wrap(err, "openrouter completion")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyAnswer
	}
	return resp.Choices[0].Content, nil
}
