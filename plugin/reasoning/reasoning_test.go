package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/picarcade/picarcade/internal/profile"
	"github.com/picarcade/picarcade/plugin/replicate"
)

func TestReplicateServiceJoinsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body struct {
				Version string         `json:"version"`
				Input   map[string]any `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "anthropic/claude-3.7-sonnet", body.Version)
			assert.Equal(t, "put @me on a horse", body.Input["prompt"])
			assert.Equal(t, "ctx", body.Input["system_prompt"])
			assert.EqualValues(t, MaxTokens, body.Input["max_tokens"])
			assert.EqualValues(t, Temperature, body.Input["temperature"])
			_, _ = w.Write([]byte(`{"id":"r1","status":"starting"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"r1","status":"succeeded","output":["{\"intent\"", ":\"swap\"}"]}`))
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "tok", replicate.WithPolling(3, time.Millisecond))
	answer, err := NewReplicate(client, "anthropic/claude-3.7-sonnet").Reason(context.Background(), "put @me on a horse", "ctx")
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"swap"}`, answer)
}

func TestReplicateServiceEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"r1","status":"succeeded","output":[]}`))
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "tok")
	_, err := NewReplicate(client, "m").Reason(context.Background(), "p", "s")
	assert.True(t, errors.Is(err, ErrEmptyAnswer))
}

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	answer   string
	err      error
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestOpenRouterServiceSendsSystemAndHumanMessages(t *testing.T) {
	model := &fakeModel{answer: `{"intent":"edit"}`}
	answer, err := NewWithModel(model).Reason(context.Background(), "change the sky", "system ctx")
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"edit"}`, answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, MaxTokens, model.opts.MaxTokens)
	assert.InDelta(t, Temperature, model.opts.Temperature, 1e-9)
}

func TestOpenRouterServiceErrors(t *testing.T) {
	_, err := NewWithModel(&fakeModel{err: errors.New("boom")}).Reason(context.Background(), "p", "s")
	require.Error(t, err)

	_, err = NewWithModel(&fakeModel{answer: "  "}).Reason(context.Background(), "p", "s")
	assert.True(t, errors.Is(err, ErrEmptyAnswer))

	_, err = NewOpenRouter(profile.DefaultOpenRouterURL, "", "m")
	require.Error(t, err)
}

func TestNewFromProfile(t *testing.T) {
	client := replicate.NewClient("http://localhost", "tok")

	svc, err := NewFromProfile(&profile.Profile{ReasoningBackend: BackendReplicate, ReasoningModel: "m"}, client)
	require.NoError(t, err)
	assert.IsType(t, &ReplicateService{}, svc)

	svc, err = NewFromProfile(&profile.Profile{
		ReasoningBackend: BackendOpenRouter,
		ReasoningModel:   "m",
		OpenRouterURL:    profile.DefaultOpenRouterURL,
		OpenRouterAPIKey: "key",
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenRouterService{}, svc)

	_, err = NewFromProfile(&profile.Profile{ReasoningBackend: "carrier-pigeon"}, client)
	require.Error(t, err)
}
