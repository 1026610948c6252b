package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func completionHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gemini-2.0-flash",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}
}

func errorHandler(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": message, "type": "server_error"},
		})
	}
}

func newTestClient(t *testing.T, baseURL string, keys []string, minDelay, maxDelay time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKeys:     keys,
		BaseURL:     baseURL + "/v1",
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		BackoffBase: time.Minute,
		Logger:      zerolog.New(io.Discard),
	})
	require.NoError(t, err)
	return client
}

func TestGenerateEnforcesMinimumDelay(t *testing.T) {
	server := newTestServer(t, completionHandler("ответ модели"))
	client := newTestClient(t, server.URL, []string{"key"}, 30*time.Millisecond, 30*time.Millisecond)

	const calls = 3
	start := time.Now()
	for i := 0; i < calls; i++ {
		resp, err := client.Generate(context.Background(), "prompt", "gemini-2.0-flash")
		require.NoError(t, err)
		require.Equal(t, "ответ модели", resp)
	}

	require.GreaterOrEqual(t, time.Since(start), (calls-1)*30*time.Millisecond)
	require.Equal(t, []int{calls}, client.Usage())
}

func TestGenerateClassifiesQuotaError(t *testing.T) {
	server := newTestServer(t, errorHandler(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED: quota hit, retry in 7s"))
	client := newTestClient(t, server.URL, []string{"key"}, time.Millisecond, time.Millisecond)

	_, err := client.Generate(context.Background(), "prompt", "gemini-2.0-flash")
	require.Error(t, err)
	require.True(t, IsQuotaError(err))
	require.False(t, IsModelUnavailable(err))
}

func TestGenerateClassifiesUnknownModel(t *testing.T) {
	server := newTestServer(t, errorHandler(http.StatusNotFound, "NOT_FOUND: model does not exist"))
	client := newTestClient(t, server.URL, []string{"key"}, time.Millisecond, time.Millisecond)

	_, err := client.Generate(context.Background(), "prompt", "missing-model")
	require.Error(t, err)
	require.True(t, IsModelUnavailable(err))
}

func TestHandleQuotaExponentialBackoffAndRotation(t *testing.T) {
	server := newTestServer(t, completionHandler("ok"))
	client := newTestClient(t, server.URL, []string{"a", "b", "c"}, time.Millisecond, time.Millisecond)

	var waits []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	cause := errorHandlerErr("RESOURCE_EXHAUSTED")

	attempt, err := client.HandleQuota(context.Background(), cause, 1)
	require.NoError(t, err)
	require.Equal(t, 2, attempt)
	require.Equal(t, 1, client.KeyIndex())

	attempt, err = client.HandleQuota(context.Background(), cause, attempt)
	require.NoError(t, err)
	require.Equal(t, 3, attempt)
	require.Equal(t, 2, client.KeyIndex())

	attempt, err = client.HandleQuota(context.Background(), cause, attempt)
	require.NoError(t, err)
	require.Equal(t, 4, attempt)
	require.Equal(t, 0, client.KeyIndex(), "rotation wraps around the pool")

	require.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute}, waits)
}

func TestHandleQuotaUsesRetryHint(t *testing.T) {
	server := newTestServer(t, completionHandler("ok"))
	client := newTestClient(t, server.URL, []string{"a", "b"}, time.Millisecond, time.Millisecond)

	var waits []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := client.HandleQuota(context.Background(), errorHandlerErr("quota exceeded, retry in 12.5s"), 1)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{12500*time.Millisecond + 10*time.Second}, waits)
}

func TestParseRetryHint(t *testing.T) {
	wait, ok := ParseRetryHint("please retry in 42s")
	require.True(t, ok)
	require.Equal(t, 42*time.Second, wait)

	wait, ok = ParseRetryHint("please retry in 1.5s")
	require.True(t, ok)
	require.Equal(t, 1500*time.Millisecond, wait)

	_, ok = ParseRetryHint("no hint here")
	require.False(t, ok)
}

type plainError string

func (e plainError) Error() string { return string(e) }

func errorHandlerErr(msg string) error { return plainError(msg) }
