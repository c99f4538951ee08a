package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers POST /predictions with created and each GET with the next
// entry of polls (the last one repeats).
func fakeServer(t *testing.T, created string, polls ...string) (*httptest.Server, *int32) {
	t.Helper()
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "owner/model", body["version"])
			_, _ = w.Write([]byte(created))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/predictions/"):
			n := int(atomic.AddInt32(&gets, 1)) - 1
			if n >= len(polls) {
				n = len(polls) - 1
			}
			_, _ = w.Write([]byte(polls[n]))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func newTestClient(url string, attempts int) *Client {
	return NewClient(url, "secret", WithPolling(attempts, time.Millisecond))
}

func TestRunPollsUntilSucceeded(t *testing.T) {
	srv, gets := fakeServer(t,
		`{"id":"p1","status":"starting"}`,
		`{"id":"p1","status":"processing"}`,
		`{"id":"p1","status":"succeeded","output":["https://cdn.example.com/1.png","https://cdn.example.com/2.png"]}`,
	)
	p, err := newTestClient(srv.URL, 5).Run(context.Background(), "owner/model", map[string]any{"prompt": "a cat"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(gets))

	out, err := p.OutputStrings()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/1.png", "https://cdn.example.com/2.png"}, out)
}

func TestRunReturnsImmediatelyWhenCreatedTerminal(t *testing.T) {
	srv, gets := fakeServer(t, `{"id":"p1","status":"succeeded","output":"https://cdn.example.com/1.mp4"}`, `{}`)
	p, err := newTestClient(srv.URL, 5).Run(context.Background(), "owner/model", nil)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(gets))

	out, err := p.OutputStrings()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/1.mp4"}, out)
}

func TestRunReportsProviderFailure(t *testing.T) {
	srv, _ := fakeServer(t,
		`{"id":"p1","status":"starting"}`,
		`{"id":"p1","status":"failed","error":"NSFW content detected"}`,
	)
	_, err := newTestClient(srv.URL, 5).Run(context.Background(), "owner/model", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPredictionFailed))
	assert.Contains(t, err.Error(), "NSFW content detected")
}

func TestRunTimesOutAfterAttemptBudget(t *testing.T) {
	srv, gets := fakeServer(t, `{"id":"p1","status":"starting"}`, `{"id":"p1","status":"processing"}`)
	_, err := newTestClient(srv.URL, 3).Run(context.Background(), "owner/model", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPredictionTimeout))
	assert.False(t, errors.Is(err, ErrPredictionFailed))
	assert.Equal(t, int32(3), atomic.LoadInt32(gets))
}

func TestRunHonoursCancellation(t *testing.T) {
	srv, _ := fakeServer(t, `{"id":"p1","status":"starting"}`, `{"id":"p1","status":"processing"}`)
	c := NewClient(srv.URL, "secret", WithPolling(100, time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx, "owner/model", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCreateSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "secret").Create(context.Background(), "owner/model", nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestOutputText(t *testing.T) {
	p := &Prediction{Output: json.RawMessage(`["{\"intent\":", " \"edit\"}"]`)}
	text, err := p.OutputText()
	require.NoError(t, err)
	assert.Equal(t, `{"intent": "edit"}`, text)

	p = &Prediction{Output: json.RawMessage(`42`)}
	_, err = p.OutputText()
	require.Error(t, err)
}
