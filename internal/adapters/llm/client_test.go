package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoaudit/internal/core/errors"
)

func newTestClient(url string, retries int) *Client {
	return New(Options{
		BaseURL:      url + "/v1/",
		Model:        "test-model",
		APIKey:       "sk-test",
		Timeout:      5 * time.Second,
		MaxRetries:   retries,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	})
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "map this", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"chunks\":[]}"}}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 0).Complete(context.Background(), "you map code", "map this")
	require.NoError(t, err)
	assert.Equal(t, `{"chunks":[]}`, out)
}

func TestComplete_IgnoresReplyContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 0).Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 3).Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"context length exceeded"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeLLMFailure))
	assert.Contains(t, err.Error(), "context length exceeded")
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Complete(context.Background(), "s", "u")
	assert.True(t, errors.IsCode(err, errors.CodeMalformedResponse))
}

func TestComplete_InvalidJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`upstream says hi`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMalformedResponse))
}

func TestComplete_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Options{BaseURL: "http://127.0.0.1:1", RequestsPerMinute: 1})
	_, err := c.Complete(ctx, "s", "u")
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens("", ""))
	assert.Equal(t, 26, EstimateTokens(string(make([]byte, 40)), string(make([]byte, 60))))
}
