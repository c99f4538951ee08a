// Package reasoning sends a prompt with a system context to a remote language model
// and returns its text answer.
package reasoning

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/plugin/replicate"
)

const (
	BackendReplicate  = "replicate"
	BackendOpenRouter = "openrouter"

	MaxTokens   = 1000
	Temperature = 0.1
)

// Service answers a single prompt. Implementations do not retry.
type Service interface {
	Reason(ctx context.Context, prompt, systemContext string) (string, error)
}

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("empty answer from reasoning model")

// NewFromProfile builds the configured backend.
func NewFromProfile(p *profile.Profile, client *replicate.Client) (Service, error) {
	switch p.ReasoningBackend {
	case BackendReplicate:
		if client == nil {
			return nil, errors.New("replicate client required")
		}
		return NewReplicate(client, p.ReasoningModel), nil
	case BackendOpenRouter:
		svc, err := NewOpenRouter(p.OpenRouterURL, p.OpenRouterAPIKey, p.ReasoningModel)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, errors.Errorf("unknown reasoning backend %q", p.ReasoningBackend)
	}
}

// ReplicateService runs a hosted chat model as a prediction and waits for it.
type ReplicateService struct {
	client *replicate.Client
	model  string
}

func NewReplicate(client *replicate.Client, model string) *ReplicateService {
	return &ReplicateService{client: client, model: model}
}

func (s *ReplicateService) Reason(ctx context.Context, prompt, systemContext string) (string, error) {
	p, err := s.client.Run(ctx, s.model, map[string]any{
		"prompt":        prompt,
		"system_prompt": systemContext,
		"max_tokens":    MaxTokens,
		"temperature":   Temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "reasoning prediction")
	}
	text, err := p.OutputText()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}
