package antigravity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testPrepared(t *testing.T) *PreparedRequest {
	t.Helper()
	req, err := BuildRequest(RequestOptions{
		Model:       "gemini-2.5-pro",
		Contents:    []Content{{Role: "user", Parts: []Part{{Text: "hi"}}}},
		AccessToken: "token",
	})
	require.NoError(t, err)
	return req
}

func TestExecuteFallsBackOnServerError(t *testing.T) {
	calls := make([]string, 0)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "broken")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "healthy")
		_, _ = w.Write([]byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}}`))
	}))
	defer healthy.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{broken.URL, healthy.URL})
	resp, err := c.Execute(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"broken", "healthy"}, calls)
}

func TestExecuteRateLimitShortCircuits(t *testing.T) {
	nextCalled := false
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()
	next := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))
	defer next.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{limited.URL, next.URL})
	resp, err := c.Execute(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, int64(30000), resp.RetryAfterMS)
	require.False(t, nextCalled, "a 429 must not advance the fallback chain")
}

func TestExecuteClientErrorReturnsImmediately(t *testing.T) {
	calls := 0
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad contents"}}`))
	}))
	defer bad.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{bad.URL, bad.URL})
	resp, err := c.Execute(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 1, calls)
}

func TestExecuteReturnsLastFallbackResponse(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{down.URL, down.URL})
	resp, err := c.Execute(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestExecuteAllEndpointsUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	c := NewClientWithEndpoints(time.Second, []string{dead.URL})
	_, err := c.Execute(context.Background(), testPrepared(t))
	require.Error(t, err)
}

func TestExecuteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"chunk\"}]}}]}}\n\n"))
	}))
	defer srv.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{srv.URL})
	body, resp, err := c.ExecuteStream(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Nil(t, resp)
	require.NotNil(t, body)

	texts, errs := StreamText(context.Background(), body)
	var got string
	for text := range texts {
		got += text
	}
	require.Equal(t, "chunk", got)
	require.Nil(t, <-errs)
}

func TestExecuteStreamNonOKBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After-Ms", "750")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer srv.Close()

	c := NewClientWithEndpoints(5*time.Second, []string{srv.URL})
	body, resp, err := c.ExecuteStream(context.Background(), testPrepared(t))
	require.NoError(t, err)
	require.Nil(t, body)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, int64(750), resp.RetryAfterMS)
}
