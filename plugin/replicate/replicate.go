// Package replicate is a client for Replicate-style prediction APIs: a job is
// submitted, then polled until it reaches a terminal state.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

var (
	// ErrPredictionFailed is returned when the provider reports a terminal failure.
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrPredictionTimeout is returned when the poll budget is exhausted.
	ErrPredictionTimeout = errors.New("prediction timed out")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replicate api error: %d %s", e.StatusCode, e.Body)
}

// Prediction is one asynchronous job.
type Prediction struct {
	ID          string          `json:"id"`
	Version     string          `json:"version,omitempty"`
	Status      string          `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       any             `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// Terminal reports whether the job will not change state anymore.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// OutputStrings normalizes the output, which providers return either as a single
// string or as a list of strings.
func (p *Prediction) OutputStrings() ([]string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err != nil {
		return nil, errors.Wrap(err, "unexpected prediction output")
	}
	return []string{single}, nil
}

// OutputText joins streamed text chunks, as language models return them.
func (p *Prediction) OutputText() (string, error) {
	chunks, err := p.OutputStrings()
	if err != nil {
		return "", err
	}
	return strings.Join(chunks, ""), nil
}

func (p *Prediction) failure() string {
	if p.Error == nil {
		return p.Status
	}
	return fmt.Sprint(p.Error)
}

// Client talks to the predictions endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	attempts   int
	interval   time.Duration
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling sets the poll budget and the delay between polls.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.interval = interval
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		attempts:   60,
		interval:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create submits a job for the model version.
func (c *Client) Create(ctx context.Context, version string, input map[string]any) (*Prediction, error) {
	body, err := json.Marshal(map[string]any{"version": version, "input": input})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode prediction")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Get fetches the current state of a job.
func (c *Client) Get(ctx context.Context, id string) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	return c.do(req)
}

// Wait polls the job until it succeeds, fails, or the poll budget runs out.
// Abandoning ctx stops polling; the remote job is left running.
func (c *Client) Wait(ctx context.Context, id string) (*Prediction, error) {
	for attempt := 0; attempt < c.attempts; attempt++ {
		p, err := c.Get(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to poll prediction")
		}
		if done, err := settle(p); done {
			return p, err
		}
		if attempt == c.attempts-1 {
			break
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, errors.Wrapf(ErrPredictionTimeout, "prediction %s after %d attempts", id, c.attempts)
}

// Run submits a job and waits for it.
func (c *Client) Run(ctx context.Context, version string, input map[string]any) (*Prediction, error) {
	p, err := c.Create(ctx, version, input)
	if err != nil {
		return nil, err
	}
	slog.Debug("[PREDICTION CREATED]", "id", p.ID, "version", version, "status", p.Status)
	if done, err := settle(p); done {
		return p, err
	}
	return c.Wait(ctx, p.ID)
}

func settle(p *Prediction) (bool, error) {
	switch p.Status {
	case StatusSucceeded:
		return true, nil
	case StatusFailed, StatusCanceled:
		return true, errors.Wrap(ErrPredictionFailed, p.failure())
	}
	return false, nil
}

func (c *Client) do(req *http.Request) (*Prediction, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	p := &Prediction{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "failed to decode prediction")
	}
	return p, nil
}
